package ksm_users_sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/cloudevents/sdk-go/v2/event"
	ksm "github.com/keeper-security/secrets-manager-go/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"keepersecurity.com/ksm-users-sync/usersync"
)

func init() {
	// Register the HTTP and Pub/Sub (Cloud Scheduler) triggers with the Functions Framework
	functions.HTTP("UsersSyncHttp", usersSyncHttp)
	functions.CloudEvent("UsersSyncPubSub", usersSyncPubSub)
	functions.HTTP("UsersSyncMetrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP)
}

const ksmConfigName = "KSM_CONFIG_BASE64"
const ksmRecordUid = "KSM_RECORD_UID"
const logFormatName = "LOG_FORMAT"

var registry = prometheus.NewRegistry()
var metrics = usersync.NewMetrics(registry)

func newLogger(w io.Writer, format string, verbose bool) *slog.Logger {
	var opts = &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// loadParameters reads the run parameters from the environment and, when configured,
// from the Keeper Secrets Manager record.
func loadParameters() (params *usersync.Parameters, err error) {
	if params, err = usersync.LoadParameters(os.LookupEnv); err != nil {
		return
	}

	var configBase64 = os.Getenv(ksmConfigName)
	if len(configBase64) == 0 {
		return
	}
	var config = ksm.NewMemoryKeyValueStorage(configBase64)
	var sm = ksm.NewSecretsManager(&ksm.ClientOptions{
		Config: config,
	})
	var record usersync.ISecretRecord
	if record, err = usersync.FindUsersSyncRecord(sm, os.Getenv(ksmRecordUid)); err != nil {
		return
	}
	err = usersync.LoadParametersFromRecord(record, params)
	return
}

func functionLogger() *slog.Logger {
	return newLogger(os.Stdout, os.Getenv(logFormatName), false)
}

func runUsersSync(ctx context.Context, logger *slog.Logger) (report *usersync.SyncReport, err error) {
	var params *usersync.Parameters
	if params, err = loadParameters(); err != nil {
		if _, ok := usersync.KindOf(err); !ok {
			err = &usersync.SyncError{Kind: usersync.InvalidConfiguration, Op: "load parameters", Err: err}
		}
		usersync.LogFailure(logger, metrics, err)
		return
	}
	if params.Verbose {
		logger = newLogger(os.Stdout, os.Getenv(logFormatName), true)
	}

	var sync = usersync.NewUsersSync(params, usersync.NewDirectoryConnector(),
		usersync.WithLogger(logger), usersync.WithMetrics(metrics))
	if report, err = sync.Sync(ctx); err == nil {
		printReport(os.Stdout, report)
	}
	return
}

func printReport(w io.Writer, report *usersync.SyncReport) {
	if report != nil {
		_, _ = fmt.Fprintf(w, "Users synced!\n")
		_, _ = fmt.Fprintf(w, "# Users added: %d\n", report.UsersAdded)
		_, _ = fmt.Fprintf(w, "# Users deleted: %d\n", report.UsersRemoved)
		_, _ = fmt.Fprintf(w, "# of Users: %d\n", report.TotalDestinationUsers)
	}
}

// usersSyncHttp runs one sync and writes the report, or answers 500 so the caller retries.
func usersSyncHttp(w http.ResponseWriter, r *http.Request) {
	var report, err = runUsersSync(r.Context(), functionLogger())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	printReport(w, report)
}

// usersSyncPubSub runs one sync per scheduler message; a returned error lets the
// platform retry the event with its own backoff.
func usersSyncPubSub(ctx context.Context, e event.Event) (err error) {
	var logger = functionLogger()
	logger.Info("users sync triggered", slog.String("event_id", e.ID()), slog.String("source", e.Source()))
	_, err = runUsersSync(ctx, logger)
	return
}
