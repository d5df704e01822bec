// Package appinfo provides application identity constants.
// These are used across packages for consistent naming.
package appinfo

const (
	// AppName is the display name of the application.
	AppName = "bongbot"

	// DirName is the directory name used for storing configuration.
	// Location: ~/.config/bongbot/ or the platform equivalent.
	DirName = "bongbot"

	// BotConfigFileName is the default event-bot configuration file name.
	BotConfigFileName = "bongbot.json"

	// AdminConfigFileName is the default admin configuration file name.
	AdminConfigFileName = "admin.json"

	// AdminLockFileName is the lock file name guarding against a second
	// admin process sharing the same webhook and child pool.
	AdminLockFileName = "admin.lock"
)
