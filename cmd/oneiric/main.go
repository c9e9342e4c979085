package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lesleslie/oneiric/pkg/config"
	"github.com/lesleslie/oneiric/pkg/log"
	"github.com/lesleslie/oneiric/pkg/notify"
	"github.com/lesleslie/oneiric/pkg/runtime"
	"github.com/lesleslie/oneiric/pkg/types"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes per the §7 error taxonomy: 0 ok, 2 misconfiguration, 3
// remote sync failure, 4 lifecycle init failure, 5 workflow failure,
// 130 cancelled. Unknown kinds map to 1 with a structured stack event.
const (
	exitOK               = 0
	exitMisconfiguration = 2
	exitRemoteSync       = 3
	exitLifecycleInit    = 4
	exitWorkflowFailure  = 5
	exitCancelled        = 130
	exitUnknown          = 1
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch {
	case types.IsKind(err, types.KindConfigError), types.IsKind(err, types.KindUnresolvedCandidate), types.IsKind(err, types.KindDuplicateRegistration):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitMisconfiguration
	case types.IsKind(err, types.KindSignatureInvalid), types.IsKind(err, types.KindDigestMismatch), types.IsKind(err, types.KindPathTraversal), types.IsKind(err, types.KindCircuitOpen):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitRemoteSync
	case types.IsKind(err, types.KindLifecycleError), types.IsKind(err, types.KindSwapRollback):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitLifecycleInit
	case types.IsKind(err, types.KindCyclicWorkflow), types.IsKind(err, types.KindNoQueueAdapter), types.IsKind(err, types.KindHandlerError):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitWorkflowFailure
	case types.IsKind(err, types.KindCancelled):
		return exitCancelled
	default:
		log.WithComponent("cli").Error().Err(err).Msg("unhandled error")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUnknown
	}
}

var rootCmd = &cobra.Command{
	Use:   "oneiric",
	Short: "Oneiric control-plane runtime",
	Long: `Oneiric mediates deterministic provider selection and lifecycle
orchestration across adapters, services, tasks, events, and workflows,
drawing candidates from local registration, process plugins, and signed
remote manifests.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("oneiric version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("config", "", "Path to the typed configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(activityCmd)
	rootCmd.AddCommand(orchestrateCmd)
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(actionInvokeCmd)
	rootCmd.AddCommand(supervisorInfoCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

// loadSettings binds configuration from the --config flag, applying
// defaults and environment overrides as pkg/config.Load documents.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	path, _ := cmd.Flags().GetString("config")
	settings, err := config.Load(path)
	if err != nil {
		return nil, types.WrapError(types.KindConfigError, "load configuration", err)
	}
	return settings, nil
}

// newRuntime loads configuration and wires a Runtime, without starting
// its background goroutines — most verbs only need the wiring, not the
// watchers.
func newRuntime(cmd *cobra.Command) (*runtime.Runtime, error) {
	settings, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	return runtime.New(settings)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered candidates",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Shutdown()

		domain, _ := cmd.Flags().GetString("domain")
		shadowedOnly, _ := cmd.Flags().GetBool("shadowed")
		key, _ := cmd.Flags().GetString("key")

		candidates := rt.Registry.List(types.Domain(domain), key, true)
		if shadowedOnly {
			candidates = shadowedCandidates(rt, types.Domain(domain), key, candidates)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(candidates)
		}
		for _, c := range candidates {
			fmt.Printf("%-10s %-20s %-14s priority=%d stack_level=%d source=%s\n",
				c.Domain, c.Key, c.Provider, c.Priority, c.StackLevel, c.Source)
		}
		return nil
	},
}

func shadowedCandidates(rt *runtime.Runtime, domain types.Domain, key string, all []types.Candidate) []types.Candidate {
	explanation := rt.Resolver.Explain(domain, key)
	if explanation.Winner == nil {
		return all
	}
	out := make([]types.Candidate, 0, len(all))
	for _, c := range all {
		if c.Identity() != explanation.Winner.Identity() {
			out = append(out, c)
		}
	}
	return out
}

func init() {
	listCmd.Flags().String("domain", "", "Restrict to one domain")
	listCmd.Flags().String("key", "", "Restrict to one key")
	listCmd.Flags().Bool("shadowed", false, "Only show non-winning candidates")
	listCmd.Flags().Bool("json", false, "Print as JSON")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lifecycle status for a domain",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Shutdown()

		domain, _ := cmd.Flags().GetString("domain")
		entries := rt.Lifecycle.Snapshot()
		filtered := make([]types.LifecycleEntry, 0, len(entries))
		for _, e := range entries {
			if domain == "" || string(e.Domain) == domain {
				filtered = append(filtered, e)
			}
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(filtered)
		}
		for _, e := range filtered {
			fmt.Printf("%-10s %-20s %-10s provider=%s paused=%v draining=%v\n",
				e.Domain, e.Key, e.State, e.CurrentProvider, e.Paused, e.Draining)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("domain", "", "Restrict to one domain")
	statusCmd.Flags().Bool("json", false, "Print as JSON")
}

var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Explain the resolver's precedence decision for a (domain,key)",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Shutdown()

		domain, _ := cmd.Flags().GetString("domain")
		key, _ := cmd.Flags().GetString("key")
		explanation := rt.Resolver.Explain(types.Domain(domain), key)
		return printJSON(explanation)
	},
}

func init() {
	explainCmd.Flags().String("domain", "", "Domain to explain")
	explainCmd.Flags().String("key", "", "Key to explain")
	_ = explainCmd.MarkFlagRequired("domain")
	_ = explainCmd.MarkFlagRequired("key")
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print lifecycle entry counts by state",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Shutdown()

		if probe, _ := cmd.Flags().GetBool("probe"); probe {
			domain, _ := cmd.Flags().GetString("domain")
			key, _ := cmd.Flags().GetString("key")
			healthy, err := rt.Lifecycle.Probe(cmd.Context(), types.Domain(domain), key)
			if err != nil {
				return err
			}
			fmt.Println("healthy:", healthy)
			return nil
		}

		counts := rt.Lifecycle.CountsByState()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(counts)
		}
		for state, count := range counts {
			fmt.Printf("%-12s %d\n", state, count)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().Bool("probe", false, "Probe a single (domain,key) instead of summarizing")
	healthCmd.Flags().String("domain", "", "Domain to probe")
	healthCmd.Flags().String("key", "", "Key to probe")
	healthCmd.Flags().Bool("json", false, "Print as JSON")
}

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Print paused/draining operator intent",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Shutdown()

		snapshot := rt.Activity.Snapshot()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(snapshot)
		}
		for id, state := range snapshot {
			fmt.Printf("%-30s paused=%v draining=%v note=%q\n", id, state.Paused, state.Draining, state.Note)
		}
		return nil
	},
}

func init() {
	activityCmd.Flags().Bool("json", false, "Print as JSON")
}

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate",
	Short: "Run the runtime's background watchers until cancelled",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}

		if profile, _ := cmd.Flags().GetString("profile"); profile != "" {
			settings.Profile = config.Profile(profile)
		}
		if noRemote, _ := cmd.Flags().GetBool("no-remote"); noRemote {
			settings.Remote.Manifests = nil
		}
		if healthPath, _ := cmd.Flags().GetString("health-path"); healthPath != "" {
			settings.RuntimePaths.HealthJSON = healthPath
		}
		if httpAddr, _ := cmd.Flags().GetString("http-addr"); httpAddr != "" {
			settings.HTTP.Addr = httpAddr
		}

		rt, err := runtime.New(settings)
		if err != nil {
			return err
		}
		defer rt.Shutdown()

		if workflowKey, _ := cmd.Flags().GetString("print-dag"); workflowKey != "" {
			_, explanation, err := rt.Resolver.Resolve(types.DomainWorkflow, workflowKey)
			if err != nil {
				return err
			}
			return printJSON(explanation)
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		rt.Start(ctx)
		<-ctx.Done()
		return types.NewError(types.KindCancelled, "orchestrate cancelled")
	},
}

func init() {
	orchestrateCmd.Flags().String("profile", "", "Override the configured profile")
	orchestrateCmd.Flags().Bool("no-remote", false, "Disable remote manifest watchers")
	orchestrateCmd.Flags().String("health-path", "", "Override the readiness JSON path")
	orchestrateCmd.Flags().String("http-addr", "", "Bind address for /health, /ready, and /metrics (disabled if unset)")
	orchestrateCmd.Flags().String("print-dag", "", "Print the named workflow's resolved explanation and exit")
	orchestrateCmd.Flags().Bool("events", false, "Reserved for an interactive event inspector (unimplemented)")
	orchestrateCmd.Flags().Bool("inspect-json", false, "Reserved for an interactive event inspector (unimplemented)")
	orchestrateCmd.Flags().String("topic", "", "Reserved for an interactive event inspector (unimplemented)")
}

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event dispatcher operations",
}

var eventEmitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Dispatch one event to its subscribed handlers",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Shutdown()

		topic, _ := cmd.Flags().GetString("topic")
		payloadRaw, _ := cmd.Flags().GetString("payload")
		var payload map[string]any
		if payloadRaw != "" {
			if err := json.Unmarshal([]byte(payloadRaw), &payload); err != nil {
				return types.WrapError(types.KindConfigError, "parse --payload", err)
			}
		}

		results, err := rt.Events.Dispatch(cmd.Context(), topic, payload, nil)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(results)
		}
		for _, r := range results {
			fmt.Printf("%-20s attempts=%d status=%s\n", r.Provider, r.Attempts, r.Status)
		}
		return nil
	},
}

func init() {
	eventEmitCmd.Flags().String("topic", "", "Event topic")
	eventEmitCmd.Flags().String("payload", "", "JSON payload")
	eventEmitCmd.Flags().Bool("json", false, "Print results as JSON")
	_ = eventEmitCmd.MarkFlagRequired("topic")
	eventCmd.AddCommand(eventEmitCmd)
}

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Workflow DAG operations",
}

var workflowRunCmd = &cobra.Command{
	Use:   "run KEY",
	Short: "Run a workflow to completion (or resume a prior run)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Shutdown()

		contextRaw, _ := cmd.Flags().GetString("context")
		runCtx := map[string]any{}
		if contextRaw != "" {
			if err := json.Unmarshal([]byte(contextRaw), &runCtx); err != nil {
				return types.WrapError(types.KindConfigError, "parse --context", err)
			}
		}

		record, err := rt.Workflows.Run(cmd.Context(), args[0], runCtx)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(record)
		}
		fmt.Printf("run_id=%s status=%s\n", record.RunID, record.Status)
		return nil
	},
}

var workflowEnqueueCmd = &cobra.Command{
	Use:   "enqueue KEY",
	Short: "Enqueue a workflow through its scheduler hint's queue adapter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Shutdown()

		handle, err := rt.Workflows.Enqueue(cmd.Context(), args[0], nil)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(handle)
		}
		fmt.Printf("enqueued via provider=%s\n", handle.Candidate.Provider)
		return nil
	},
}

func init() {
	workflowRunCmd.Flags().String("context", "", "JSON run context")
	workflowRunCmd.Flags().Bool("json", false, "Print the run record as JSON")
	workflowEnqueueCmd.Flags().String("queue-category", "", "Override the workflow's declared queue category (unused: resolved via metadata.scheduler)")
	workflowEnqueueCmd.Flags().String("provider", "", "Override the queue adapter provider (unused: resolved via resolver precedence)")
	workflowEnqueueCmd.Flags().Bool("json", false, "Print the handle as JSON")
	workflowCmd.AddCommand(workflowRunCmd, workflowEnqueueCmd)
}

var actionInvokeCmd = &cobra.Command{
	Use:   "action-invoke NAME",
	Short: "Invoke a task action, optionally running a workflow and routing a notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Shutdown()

		payloadRaw, _ := cmd.Flags().GetString("payload")
		var payload any
		if payloadRaw != "" {
			if err := json.Unmarshal([]byte(payloadRaw), &payload); err != nil {
				return types.WrapError(types.KindConfigError, "parse --payload", err)
			}
		}

		result, err := rt.Tasks.Run(cmd.Context(), args[0], payload)
		if err != nil {
			return err
		}

		if workflowKey, _ := cmd.Flags().GetString("workflow"); workflowKey != "" {
			runCtx := map[string]any{"action_result": result}
			if _, err := rt.Workflows.Run(cmd.Context(), workflowKey, runCtx); err != nil {
				return err
			}
		}

		if sendNotification, _ := cmd.Flags().GetBool("send-notification"); sendNotification {
			adapterKey, _ := cmd.Flags().GetString("notify-adapter")
			target, _ := cmd.Flags().GetString("notify-target")
			out := notify.WorkflowNotifyOutput{Target: target, Title: args[0]}
			if err := rt.Notify.Route(cmd.Context(), out, types.NotificationSpec{AdapterKey: adapterKey, Channel: target}); err != nil {
				return err
			}
		}

		return printJSON(result)
	},
}

func init() {
	actionInvokeCmd.Flags().String("payload", "", "JSON payload")
	actionInvokeCmd.Flags().String("workflow", "", "Run this workflow after the action succeeds")
	actionInvokeCmd.Flags().Bool("send-notification", false, "Route a notification after the action succeeds")
	actionInvokeCmd.Flags().String("notify-adapter", "", "Adapter key for --send-notification")
	actionInvokeCmd.Flags().String("notify-target", "", "Notification target for --send-notification")
}

var supervisorInfoCmd = &cobra.Command{
	Use:   "supervisor-info",
	Short: "Print whether the activity supervisor is enabled and the active profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Shutdown()

		return printJSON(map[string]any{
			"enabled": rt.Supervisor.Enabled(),
			"profile": rt.Settings.Profile,
		})
	},
}
