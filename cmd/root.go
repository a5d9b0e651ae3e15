// Package cmd implements the cloudpin command line interface.
package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cphttp "github.com/cloudpin/cloudpin/http"
	"github.com/cloudpin/cloudpin/logging"
	"github.com/cloudpin/cloudpin/workspace"
)

// settings is the effective server configuration, resolved from flags,
// CLOUDPIN_* environment variables, and an optional config file, in that
// order of precedence.
type settings struct {
	Address   string `mapstructure:"address" yaml:"address"`
	Port      int    `mapstructure:"port" yaml:"port"`
	LogDir    string `mapstructure:"log_dir" yaml:"log_dir"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose"`
	CachePath string `mapstructure:"cache_path" yaml:"cache_path"`
	Secret    string `mapstructure:"secret" yaml:"secret"`
}

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "cloudpin",
	Short: "Web UI that stores files in a Telegram chat",
	Long: `cloudpin serves a web API backed by the Telegram Bot API as a remote
file store. The file manifest is kept as a pinned message in the chosen
chat, so any client with the bot token sees the same files.`,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return serve()
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("address", "a", "127.0.0.1", "address to listen on")
	flags.IntP("port", "p", 8370, "port to listen on")
	flags.String("log-dir", "", "directory for rotating log files (console only when empty)")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	flags.String("cache-path", "", "local cache database path (default ~/.cloudpin/cache.db)")
	flags.String("secret", "", "session signing secret (random per start when empty)")
	flags.StringP("config", "c", "", "config file path")

	v.BindPFlag("address", flags.Lookup("address"))     //nolint:errcheck
	v.BindPFlag("port", flags.Lookup("port"))           //nolint:errcheck
	v.BindPFlag("log_dir", flags.Lookup("log-dir"))     //nolint:errcheck
	v.BindPFlag("verbose", flags.Lookup("verbose"))     //nolint:errcheck
	v.BindPFlag("cache_path", flags.Lookup("cache-path")) //nolint:errcheck
	v.BindPFlag("secret", flags.Lookup("secret"))       //nolint:errcheck

	v.SetEnvPrefix("cloudpin")
	v.AutomaticEnv()
}

// loadSettings resolves the configuration, reading the config file when
// one is given.
func loadSettings() (settings, error) {
	var s settings
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return s, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(&s); err != nil {
		return s, fmt.Errorf("parse config: %w", err)
	}
	if s.CachePath == "" {
		path, err := workspace.DefaultCachePath()
		if err != nil {
			return s, err
		}
		s.CachePath = path
	}
	if s.Secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return s, fmt.Errorf("generate session secret: %w", err)
		}
		s.Secret = hex.EncodeToString(buf)
	}
	return s, nil
}

func serve() error {
	s, err := loadSettings()
	if err != nil {
		return err
	}

	logging.Init(s.LogDir, s.Verbose)
	l := logging.Sub("serve")

	cache, err := workspace.OpenCache(s.CachePath)
	if err != nil {
		return err
	}
	defer cache.Close()

	server := cphttp.NewServer(cphttp.Config{
		Cache:  cache,
		Secret: []byte(s.Secret),
	})

	addr := net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		l.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		l.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}

	l.Info("stopped")
	return nil
}
