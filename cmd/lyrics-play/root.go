package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"lyrics-sync-go/catalog"
	"lyrics-sync-go/config"
	"lyrics-sync-go/logcolors"
	"lyrics-sync-go/mpv"
	"lyrics-sync-go/render"
	"lyrics-sync-go/session"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var conf = config.Get()

var (
	serverURL string
	songsDir  string
	socket    string
	height    int
	noColor   bool
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "lyrics-play <song-id>",
	Short: "Play a song with synced lyrics in the terminal",
	Long: `Plays a song through mpv and follows along with its lyrics, highlighting
each word as it is sung. Songs come from a running lyrics server or, with
--songs-dir, straight from a songs directory.

Press Enter to pause or resume, q then Enter to quit.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runPlay,
}

func init() {
	rootCmd.Flags().StringVarP(&serverURL, "server", "s", "http://localhost:"+conf.Configuration.Port,
		"lyrics server to fetch songs and audio from")
	rootCmd.Flags().StringVarP(&songsDir, "songs-dir", "d", "",
		"read songs from this directory instead of a server")
	rootCmd.Flags().StringVar(&socket, "mpv-socket", conf.Configuration.MPVSocketPath,
		"path of the mpv IPC socket")
	rootCmd.Flags().IntVar(&height, "rows", 2*conf.Configuration.ContextLines+1,
		"number of lyric rows to show")
	rootCmd.Flags().BoolVar(&noColor, "no-color", false,
		"disable colored output")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn",
		"log level (debug, info, warn, error)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func runPlay(cmd *cobra.Command, args []string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(cmd.ErrOrStderr())
	log.SetLevel(level)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, resolve, cleanup, err := openSource()
	if err != nil {
		return err
	}
	defer cleanup()

	player := mpv.NewPlayer(socket, mpv.WithResolver(resolve))
	defer player.Close()

	surface := render.NewTerminalSurface(cmd.OutOrStdout(), height)
	s := session.New(source, player, terminalDisplay{surface}, session.Config{
		TickInterval: conf.TickInterval(),
		LineHeight:   1,
		ContextLines: conf.Configuration.ContextLines,
		Formatter:    render.ANSIFormatter{NoColor: noColor},
	})

	go forwardEvents(ctx, player.Events(), s)
	go readKeys(ctx, cmd.InOrStdin(), s, stop)

	if err := s.Post(ctx, session.Event{Type: session.EventSelect, SongID: args[0]}); err != nil {
		return err
	}

	err = s.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openSource picks the song source and the matching audio resolver.
func openSource() (session.Source, func(string) string, func(), error) {
	if songsDir == "" {
		log.Infof("%s Fetching songs from %s", logcolors.LogFetch, serverURL)
		return session.NewHTTPSource(serverURL, nil), serverResolver(serverURL), func() {}, nil
	}

	// a private store, so a running server's database lock is never contended
	tmpDir, err := os.MkdirTemp("", "lyrics-play-")
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := catalog.OpenStore(filepath.Join(tmpDir, "catalog.db"), filepath.Join(tmpDir, "backups"), false)
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, nil, nil, fmt.Errorf("failed to open catalog store: %w", err)
	}
	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	c := catalog.New(store, songsDir)
	if _, err := c.Reload(); err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return session.CatalogSource{Catalog: c}, dirResolver(songsDir), cleanup, nil
}

// serverResolver turns server-relative audio paths into URLs mpv can stream.
func serverResolver(base string) func(string) string {
	base = strings.TrimRight(base, "/")
	return func(resource string) string {
		if strings.HasPrefix(resource, "/") {
			return base + resource
		}
		return resource
	}
}

// dirResolver maps media paths back onto files in the songs directory.
func dirResolver(dir string) func(string) string {
	return func(resource string) string {
		if name, ok := strings.CutPrefix(resource, catalog.MediaPrefix); ok {
			return filepath.Join(dir, name)
		}
		return resource
	}
}
