package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"turnstile/internal/config"
	"turnstile/internal/db"
	"turnstile/internal/domain"
	"turnstile/internal/hub"
	"turnstile/internal/metrics"
	"turnstile/internal/migrate"
	"turnstile/internal/mockhub"
	"turnstile/internal/repo"
	"turnstile/internal/roster"
	"turnstile/internal/server"
	"turnstile/internal/session"
	"turnstile/internal/syncer"
	turnstilesdk "turnstile/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "ts",
	Short: "Turnstile badge-scanning terminal",
	Long: `Turnstile runs an offline-first badge redemption terminal for events.
The terminal loads the full roster at session start, redeems badges locally
without waiting for the network, and reconciles with the hub every few
seconds: push what was scanned here, pull what was scanned elsewhere.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TURNSTILE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("terminal-url", "http://127.0.0.1:8787", "running terminal API URL")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("terminal-url", rootCmd.PersistentFlags().Lookup("terminal-url"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(rosterCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(mockhubCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage terminal configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default turnstile.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

// credentials is the cached login state in the workspace directory.
type credentials struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	FirstName string `json:"first_name"`
	Expires   int64  `json:"expires"`
}

func credentialsPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".turnstile", "credentials.json")
}

func saveCredentials(workspace string, creds hub.Credentials) error {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return err
	}
	data, err := json.MarshalIndent(credentials{
		Token:     creds.Token,
		UserID:    creds.UserID,
		FirstName: creds.FirstName,
		Expires:   creds.Expires.Unix(),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(credentialsPath(workspace), data, 0o600)
}

func loadCredentials(workspace string) (credentials, error) {
	data, err := os.ReadFile(credentialsPath(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return credentials{}, fmt.Errorf("not logged in; run ts login first")
		}
		return credentials{}, err
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return credentials{}, err
	}
	if creds.Expires > 0 && time.Now().Unix() > creds.Expires {
		return credentials{}, fmt.Errorf("login expired; run ts login again")
	}
	return creds, nil
}

func hubClient(workspace string, authed bool) (*hub.Client, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	c := hub.New(cfg.Hub.URL)
	if authed {
		creds, err := loadCredentials(workspace)
		if err != nil {
			return nil, err
		}
		c.BearerToken = creds.Token
	}
	return c, nil
}

func loginCmd() *cobra.Command {
	var countryCode, phone, code string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with a phone number and OTP code",
		Long:  "Without --code, requests an OTP. With --code, exchanges it for a token.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			c, err := hubClient(workspace, false)
			if err != nil {
				return err
			}
			if code == "" {
				if err := c.SendCode(cmd.Context(), countryCode, phone); err != nil {
					return err
				}
				fmt.Println("code sent; rerun with --code <otp>")
				return nil
			}
			creds, err := c.VerifyCode(cmd.Context(), countryCode, phone, code)
			if err != nil {
				return err
			}
			if err := saveCredentials(workspace, creds); err != nil {
				return err
			}
			fmt.Printf("logged in as %s\n", creds.FirstName)
			return nil
		},
	}
	cmd.Flags().StringVar(&countryCode, "country-code", "+33", "phone country code")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&code, "code", "", "OTP code from the previous step")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

type catalogResult struct {
	OrgID    string
	EventID  string
	Catalog  domain.Catalog
	Complete bool
}

// resolveCatalog drills org -> event -> badge types, advancing automatically
// through levels that offer a single choice. Complete is false when a level
// offered more than one option and an explicit id is needed.
func resolveCatalog(ctx context.Context, c *hub.Client, orgID, eventID string) (*catalogResult, error) {
	res := &catalogResult{OrgID: orgID, EventID: eventID}
	if res.EventID == "" {
		if res.OrgID == "" {
			cat, err := c.EventInit(ctx, "", "")
			if err != nil {
				return nil, err
			}
			if len(cat.Orgs) != 1 {
				res.Catalog = cat
				return res, nil
			}
			res.OrgID = cat.Orgs[0].ID
		}
		cat, err := c.EventInit(ctx, res.OrgID, "")
		if err != nil {
			return nil, err
		}
		if len(cat.Events) != 1 {
			res.Catalog = cat
			return res, nil
		}
		res.EventID = cat.Events[0].ID
	}
	cat, err := c.EventInit(ctx, "", res.EventID)
	if err != nil {
		return nil, err
	}
	res.Catalog = cat
	res.Complete = true
	return res, nil
}

func catalogCmd() *cobra.Command {
	var orgID, eventID string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Browse orgs, events, and badge types",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := hubClient(viper.GetString("workspace"), true)
			if err != nil {
				return err
			}
			cat, err := c.EventInit(cmd.Context(), orgID, eventID)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cat)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			switch {
			case len(cat.BadgeTypes) > 0:
				tw.AppendHeader(table.Row{"Badge Type", "Name", "Max Supply"})
				for _, b := range cat.BadgeTypes {
					tw.AppendRow(table.Row{b.ID, b.Name, b.MaxSupply})
				}
			case len(cat.Events) > 0:
				tw.AppendHeader(table.Row{"Event", "Name"})
				for _, e := range cat.Events {
					tw.AppendRow(table.Row{e.ID, e.Name})
				}
			default:
				tw.AppendHeader(table.Row{"Org", "Name"})
				for _, o := range cat.Orgs {
					tw.AppendRow(table.Row{o.ID, o.Name})
				}
			}
			tw.Render()
			if cat.ScanTerminal != "" {
				fmt.Println("scan terminal:", cat.ScanTerminal)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "org id")
	cmd.Flags().StringVar(&eventID, "event", "", "event id")
	return cmd
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scanning session",
		Long: `Loads the roster for the configured badge types, starts the sync loop,
and serves the terminal API until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			c, err := hubClient(workspace, true)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			badgeTypeIDs := cfg.Session.BadgeTypeIDs
			scanTerminal := cfg.Terminal.Name
			if len(badgeTypeIDs) == 0 {
				// No explicit selection; take every badge type of the
				// configured (or only) event.
				res, err := resolveCatalog(ctx, c, cfg.Session.OrgID, cfg.Session.EventID)
				if err != nil {
					return err
				}
				if !res.Complete {
					return fmt.Errorf("more than one org or event available; set session.org_id and session.event_id in turnstile.yml")
				}
				for _, b := range res.Catalog.BadgeTypes {
					badgeTypeIDs = append(badgeTypeIDs, b.ID)
				}
				if res.Catalog.ScanTerminal != "" {
					scanTerminal = res.Catalog.ScanTerminal
				}
			}
			if len(badgeTypeIDs) == 0 {
				return fmt.Errorf("no badge types to scan")
			}

			rows, watermark, err := syncer.Bootstrap(ctx, c, badgeTypeIDs, nil)
			if err != nil {
				return fmt.Errorf("load roster: %w", err)
			}
			r, err := roster.Load(rows)
			if err != nil {
				return fmt.Errorf("roster rejected: %w", err)
			}
			sess := session.New(r)
			defer sess.Close()

			registry := prometheus.NewRegistry()
			m := metrics.New(registry)

			engine := syncer.New(syncer.Config{
				Hub:          c,
				Session:      sess,
				ScanTerminal: scanTerminal,
				BadgeTypeIDs: badgeTypeIDs,
				Interval:     cfg.Interval(),
				Watermark:    watermark,
				Metrics:      m,
			})
			engine.Start(ctx)
			defer engine.Stop()

			handler, err := server.New(server.Config{
				Session:  sess,
				Engine:   engine,
				Metrics:  m,
				Registry: registry,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Listen, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			st := sess.Stats()
			fmt.Printf("session started: %d badges (%d already redeemed), terminal %s\n",
				st.TotalBadges, st.RedeemedBadges, scanTerminal)
			fmt.Printf("serving terminal API on http://%s/v0\n", cfg.Server.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	return cmd
}

func terminalClient() *turnstilesdk.Client {
	return turnstilesdk.New(viper.GetString("terminal-url"))
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <identifier>",
		Short: "Resolve a scanned identifier against the running terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := terminalClient().Scan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(out)
			}
			switch out.Kind {
			case "auto_redeemed":
				fmt.Printf("OK %s %s: redeemed %s\n", out.Participant.FirstName, out.Participant.LastName, out.EntityID)
			case "already_redeemed":
				fmt.Printf("DENY %s %s: all badges already redeemed\n", out.Participant.FirstName, out.Participant.LastName)
			case "needs_selection":
				fmt.Printf("CHOOSE %s %s: %s\n", out.Participant.FirstName, out.Participant.LastName,
					strings.Join(out.Candidates, ", "))
			default:
				fmt.Println("NOT FOUND")
			}
			return nil
		},
	}
}

func rosterCmd() *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "List participants on the running terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := terminalClient().Participants(cmd.Context(), query)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"User", "Name", "Email", "Badges", "Redeemed"})
			for _, p := range items {
				redeemed := 0
				for _, b := range p.Badges {
					if b.IsUsed {
						redeemed++
					}
				}
				tw.AppendRow(table.Row{
					p.UserID, p.FirstName + " " + p.LastName, p.Email, len(p.Badges), redeemed,
				})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&query, "q", "", "substring filter")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show counters and sync freshness of the running terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := terminalClient().Status(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(st)
			}
			fmt.Printf("redeemed %d/%d, %d pending push\n",
				st.Stats.RedeemedBadges, st.Stats.TotalBadges, st.Stats.PendingPush)
			if st.LastSynced != "" {
				fmt.Println("last synced:", st.LastSynced)
			} else {
				fmt.Println("not synced yet")
			}
			return nil
		},
	}
}

func mockhubCmd() *cobra.Command {
	var participants int
	cmd := &cobra.Command{
		Use:   "mockhub",
		Short: "Run a local development hub",
		Long: `Serves the hub workflow API backed by SQLite in the workspace. An empty
database is seeded with a demo org, event, badge types, and roster. The
volunteer account is +33 0600000000; OTP codes are printed to the log.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default()
			}
			conn, err := db.Open(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.New(conn)
			var orgCount int
			if err := conn.QueryRowContext(cmd.Context(), `SELECT COUNT(*) FROM orgs`).Scan(&orgCount); err != nil {
				return err
			}
			if orgCount == 0 {
				if err := mockhub.Seed(cmd.Context(), r, mockhub.SeedOptions{
					Participants: participants,
					ExtraBadges:  participants / 10,
				}); err != nil {
					return err
				}
				log.Printf("seeded %d participants", participants)
			}
			_, handler := mockhub.New(mockhub.Config{Repo: r, JWTSecret: cfg.Mockhub.JWTSecret})
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			srv := &http.Server{Addr: cfg.Mockhub.Listen, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("serving development hub on http://%s\n", cfg.Mockhub.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&participants, "participants", 250, "seeded roster size")
	return cmd
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
