package protocol

// Directory and file names used under the application home.
const (
	// HomeDir is the user-level state directory (e.g., ~/.sfcluster).
	HomeDir = ".sfcluster"

	// ConfigFile is the TOML application configuration.
	ConfigFile = "config.toml"

	// ServersFile is the default server roster.
	ServersFile = "servers.yaml"

	// HistoryDB is the SQLite database holding finished jobs and the event log.
	HistoryDB = "history.sqlite"

	// SocketFile is the control socket the daemon listens on.
	SocketFile = "sfcluster.sock"
)

// Wire and scheduling limits.
const (
	// MaxLineBytes bounds a single inbound protocol line. A full jobs_list
	// with 200-line log tails runs to several megabytes.
	MaxLineBytes = 64 << 20

	// JobsListLimit is the number of jobs requested on every (re)connect.
	JobsListLimit = 200

	// DefaultLimitValue is the search limit used when a request names none.
	DefaultLimitValue = 30

	// LogPreviewBytes is how much of a malformed line is logged.
	LogPreviewBytes = 200
)
