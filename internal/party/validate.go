package party

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// validatePage is the page the bartender sees after scanning a code.
const validatePage = `<html>
  <head>
    <style>
      h3 {
        text-align: center;
      }
      body {
        background-color: %s;
      }
    </style>
  </head>
  <body>
    <h3>%s</h3>
  </body>
</html>`

// Mount attaches the redemption endpoint to the router.
// Middlewares (rate limiting) apply to the route only.
func (c *Controller) Mount(r chi.Router, middlewares ...func(http.Handler) http.Handler) {
	r.With(middlewares...).Get("/validate/{entry}", c.HandleValidate)
}

// HandleValidate consumes a scanned token. A valid token renders the green
// page and, quota permitting, immediately sends the owner their next bong.
// Unknown and already-used tokens render the red 404 page.
func (c *Controller) HandleValidate(w http.ResponseWriter, r *http.Request) {
	entry := chi.URLParam(r, "entry")

	owner, ok := c.ledger.Redeem(entry)
	if !ok {
		writeValidatePage(w, http.StatusNotFound, "red", "Invalid QR code")
		return
	}

	// Redeem-then-reissue runs under the owner's lock so a concurrent
	// bong command or second redemption cannot double-issue.
	unlock := c.lockPerson(owner)
	if !c.ledger.HasReachedQuota(owner, c.cfg.Bongs.Limit) {
		ctx := context.WithoutCancel(r.Context())
		if err := c.deliver(ctx, owner); err != nil {
			c.logger.Error("follow-up bong delivery failed", "person", owner, "error", err)
		}
	}
	unlock()

	writeValidatePage(w, http.StatusOK, "green", "QR code is valid for one drink!")
}

func writeValidatePage(w http.ResponseWriter, status int, color, text string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, validatePage, color, text)
}
