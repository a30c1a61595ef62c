package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/majorcontext/portage/internal/config"
	"github.com/majorcontext/portage/internal/connector"
	"github.com/majorcontext/portage/internal/log"
	"github.com/majorcontext/portage/internal/platform"
	"github.com/majorcontext/portage/internal/secrets"
	"github.com/majorcontext/portage/internal/server"
	"github.com/majorcontext/portage/internal/server/kv"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the built-in integrations backend",
	Long: `Run the built-in integrations backend. It performs the OAuth handshakes
for each platform configured under server.clients and answers the load and
transfer calls portage makes.

Client secrets may be literals or references:
  env://NAME                    environment variable
  keyring://<platform>          OS keyring (see "portage secret set")
  awssm://<region>/<id>[#key]   AWS Secrets Manager

Handshake state lives in memory unless server.redis_addr is set.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (default from server.listen)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc := cfg.Server
	if serveListen != "" {
		sc.Listen = serveListen
	}
	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	clients, err := resolveClients(ctx, cfg)
	if err != nil {
		return err
	}

	store, err := newKVStore(ctx, sc)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := server.New(server.Config{
		PublicURL: publicURL(sc),
		Clients:   clients,
		Store:     store,
		ConnectorOptions: connector.Options{
			NotionPageID:   sc.Targets.NotionPageID,
			AirtableBaseID: sc.Targets.AirtableBaseID,
			AirtableTable:  sc.Targets.AirtableTable,
		},
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Serving integrations on %s\n", sc.Listen)
	return srv.Serve(ctx, sc.Listen)
}

// resolveClients turns the configured OAuth clients into server clients,
// resolving secret references.
func resolveClients(ctx context.Context, cfg *config.Config) (map[platform.Platform]server.OAuthClient, error) {
	secrets.RegisterDefaults()

	clients := make(map[platform.Platform]server.OAuthClient)
	for _, p := range platform.All() {
		c, ok := cfg.Client(p)
		if !ok {
			log.Debug("no OAuth client configured", "platform", p)
			continue
		}
		secret, err := secrets.ResolveValue(ctx, c.ClientSecret)
		if err != nil {
			return nil, fmt.Errorf("resolving %s client secret: %w", p.DisplayName(), err)
		}
		clients[p] = server.OAuthClient{
			ClientID:     c.ClientID,
			ClientSecret: secret,
			Scopes:       c.Scopes,
			AuthURL:      c.AuthURL,
			TokenURL:     c.TokenURL,
		}
	}
	return clients, nil
}

func newKVStore(ctx context.Context, sc config.ServerConfig) (kv.Store, error) {
	if sc.RedisAddr == "" {
		return kv.NewMemory(time.Minute), nil
	}
	store, err := kv.NewRedis(ctx, kv.RedisConfig{
		Addr:     sc.RedisAddr,
		Password: sc.RedisPassword,
		DB:       sc.RedisDB,
	})
	if err != nil {
		return nil, err
	}
	log.Info("using redis for handshake state", "addr", sc.RedisAddr)
	return store, nil
}

func publicURL(sc config.ServerConfig) string {
	if sc.PublicURL != "" {
		return sc.PublicURL
	}
	return "http://" + sc.Listen
}
