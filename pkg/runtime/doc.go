// Package runtime is the composition root: one Runtime value owns the
// Candidate Registry, Resolver, Lifecycle Manager, domain bridges,
// Workflow engine, Remote Manifest Loaders, Notification Router,
// Telemetry Writer, Activity store/Supervisor, and metrics Collector,
// wired together in dependency order by New. Every other package stays
// free of globals; callers (the CLI, or an embedding application) hold
// a *Runtime explicitly and pass it (or one of its fields) wherever a
// collaborator is needed, rather than reaching for package-level state.
//
// Bridges hold a non-owning reference into the Runtime's Resolver and
// Lifecycle Manager; the Runtime owns the bridges, not the reverse, so
// nothing here forms a reference cycle a garbage collector would need
// to break.
package runtime
