package logcolors

// ANSI color codes for log prefixes
const (
	Reset  = "\033[0m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Purple = "\033[35m"
	Cyan   = "\033[36m"

	// Bright variants for more color variety
	BrightGreen   = "\033[92m"
	BrightBlue    = "\033[94m"
	BrightMagenta = "\033[95m"
	BrightCyan    = "\033[96m"

	Red       = "\033[31m"
	BrightRed = "\033[91m"
)

// Catalog log prefixes
const (
	LogCatalog        = Blue + "[Catalog]" + Reset
	LogCatalogInit    = Blue + "[Catalog:Init]" + Reset
	LogCatalogLoad    = Blue + "[Catalog:Load]" + Reset
	LogCatalogBackup  = Blue + "[Catalog:Backup]" + Reset
	LogCatalogRestore = Blue + "[Catalog:Restore]" + Reset
	LogWatcher        = Cyan + "[Watcher]" + Reset
	LogSongCache      = Green + "[Cache:Song]" + Reset
	LogTTMLParser     = Cyan + "[TTML Parser]" + Reset
	LogLRCParser      = Cyan + "[LRC Parser]" + Reset
)

// Sync core log prefixes
const (
	LogClock   = BrightGreen + "[Clock]" + Reset
	LogSession = BrightBlue + "[Session]" + Reset
	LogRender  = BrightCyan + "[Render]" + Reset
	LogAudio   = BrightMagenta + "[Audio]" + Reset
	LogFetch   = Cyan + "[Fetch]" + Reset
	LogBreaker = Yellow + "[CircuitBreaker]" + Reset
)

// Rate limiting log prefixes
const (
	LogRateLimit = Purple + "[RateLimit]" + Reset
	LogAPIKey    = Purple + "[APIKey]" + Reset
)

// Server/Init log prefixes
const (
	LogServer  = Green + "[Server]" + Reset
	LogConfig  = Cyan + "[Config]" + Reset
	LogStats   = Blue + "[Stats]" + Reset
	LogHTTP    = Cyan + "[HTTP]" + Reset
)

// sessionColors rotate per session id so interleaved sessions are easy to tell apart.
var sessionColors = []string{
	Green, Blue, Purple, Cyan, Red,
	BrightGreen, BrightBlue, BrightMagenta, BrightCyan, BrightRed,
}

// Session returns a colored session id for log messages.
// The same id always gets the same color.
func Session(id string) string {
	hash := 0
	for _, c := range id {
		hash += int(c)
	}
	color := sessionColors[hash%len(sessionColors)]
	if len(id) > 8 {
		id = id[:8]
	}
	return color + id + Reset
}
