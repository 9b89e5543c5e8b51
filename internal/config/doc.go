// Package config loads flowfarm settings from the environment.
//
// Two backends are chosen independently: STORE_BACKEND holds workflows, run
// snapshots and the event bus, ENTITY_BACKEND holds accounts and proxy
// pools. With both left at memory no external service is needed.
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	logger.Info("listening", zap.String("addr", cfg.GetHTTPAddr()))
package config
