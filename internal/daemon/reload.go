package daemon

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/polkit-go/polkitd/internal/action"
	"github.com/polkit-go/polkitd/internal/config"
	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/log"
	"github.com/polkit-go/polkitd/internal/rules"
)

// WatchAndReload watches the action and rule directories, plus the reload
// sentinel the grant helper touches after every authstore write, and
// reloads the engine's registry and rule store whenever any of them change
// (spec §4.2, §4.4). It blocks until ctx is cancelled.
func (s *Server) WatchAndReload(ctx context.Context, actionDir, ruleDir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf(i18n.G("couldn't create reload watcher: %w"), err)
	}
	defer w.Close()

	for _, dir := range []string{actionDir, ruleDir, filepath.Dir(config.ReloadSentinel)} {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf(i18n.G("couldn't watch %s for reload: %w"), dir, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-w.Errors:
			log.Warningf(context.Background(), i18n.G("reload watcher error: %v"), err)
		case <-w.Events:
			s.reload(actionDir, ruleDir)
		}
	}
}

// reload reloads the registry and rule store from disk and swaps them into
// the engine, logging and continuing past any individual malformed file
// rather than failing the whole reload (spec §7 reload recovery contract).
func (s *Server) reload(actionDir, ruleDir string) {
	registry, actionErrs := action.Load(actionDir)
	action.LogLoadErrors(actionErrs)

	rulesStore, ruleErrs := rules.Load(ruleDir)
	rules.LogLoadErrors(ruleErrs)

	s.Engine.Reload(registry, rulesStore)
	log.Debug(context.Background(), i18n.G("reloaded actions and rules"))
}
