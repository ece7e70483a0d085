// Package security selects the security chain of each request and runs
// the authentication pipeline.
//
// The rule table is built once from the topology mode:
//
//	mode, _ := security.ParseTopology(cfg.Spec.Topology)
//	rules, err := security.BuildRules(mode, extractors, cfg.Spec.Rules)
//	router, err := security.NewRouter(rules)
//	pipeline := security.NewPipeline(categorizer, router)
//	handler := security.Middleware(pipeline, dispatcher)(next)
//
// Per request the pipeline categorizes certificates, matches exactly one
// rule (lowest order first), tries the rule's extractors until one
// commits, and evaluates the rule's policy. Failures are handed to an
// ErrorDispatcher.
package security
