// Package show owns the controller Manager of the running show. All access
// to the Manager goes through a Show, which serialises it.
package show

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bbernstein/lacylights-outputs/internal/database/repositories"
	"github.com/bbernstein/lacylights-outputs/internal/logger"
	"github.com/bbernstein/lacylights-outputs/internal/outputs"
	"github.com/bbernstein/lacylights-outputs/internal/services/pubsub"
)

// Show is the mutex guarded owner of a Manager and its persistence.
type Show struct {
	mu sync.RWMutex
	om *outputs.Manager
	// gen counts commits to om. Save only clears dirty flags when no commit
	// landed between its snapshot and the write finishing.
	gen uint64

	saveMu sync.Mutex
	// afterSnapshot runs between Save's snapshot and its writes. Tests only.
	afterSnapshot func()

	controllers *repositories.ControllerRepository
	settings    *repositories.SettingRepository
	ps          *pubsub.PubSub
	showDir     string
	log         *logger.Log
}

// Options configures a Show. Repositories and PubSub are optional.
type Options struct {
	Manager     *outputs.Manager
	Controllers *repositories.ControllerRepository
	Settings    *repositories.SettingRepository
	PubSub      *pubsub.PubSub
	ShowDir     string
	Log         *logger.Log
}

// New creates a Show. A nil Manager gets a fresh one on the default registry.
func New(opts Options) *Show {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	om := opts.Manager
	if om == nil {
		om = outputs.NewManager(nil, log)
	}
	return &Show{
		om:          om,
		controllers: opts.Controllers,
		settings:    opts.Settings,
		ps:          opts.PubSub,
		showDir:     opts.ShowDir,
		log:         log.Module("show"),
	}
}

// ShowDir returns the show folder holding the networks file.
func (s *Show) ShowDir() string { return s.showDir }

// View runs fn with shared access to the Manager. fn must not modify it.
func (s *Show) View(fn func(om *outputs.Manager)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.om)
}

// Update runs fn with exclusive access to the Manager, then lays the
// controllers out again and notifies subscribers.
func (s *Show) Update(fn func(om *outputs.Manager) error) error {
	s.mu.Lock()
	err := fn(s.om)
	s.om.Layout()
	s.gen++
	s.mu.Unlock()

	s.publish(pubsub.TopicControllersChanged, "")
	return err
}

// Load replaces the controllers with the stored ones. The database wins when
// it holds controllers; otherwise the networks file in the show folder is
// read. Controllers that load with problems are kept and reported.
func (s *Show) Load(ctx context.Context) error {
	recs, source, err := s.readRecords(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	loadErr := s.om.Load(recs, s.showDir)
	count := s.om.Count()
	s.gen++
	s.mu.Unlock()

	s.log.WithField("source", source).Infof("show loaded with %d controllers", count)
	s.publish(pubsub.TopicControllersChanged, "")
	return loadErr
}

func (s *Show) readRecords(ctx context.Context) ([]outputs.Record, string, error) {
	if s.controllers != nil {
		n, err := s.controllers.Count(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("failed to count stored controllers: %w", err)
		}
		if n > 0 {
			recs, err := s.controllers.LoadRecords(ctx)
			if err != nil {
				return nil, "", fmt.Errorf("failed to load controllers: %w", err)
			}
			return recs, "database", nil
		}
	}
	if s.showDir == "" {
		return nil, "empty", nil
	}
	recs, err := outputs.ReadNetworksFile(s.showDir)
	if err != nil {
		return nil, "", err
	}
	return recs, outputs.NetworksFile, nil
}

// Save writes the controllers to the database and the networks file, then
// clears the dirty flags. Both targets are attempted; errors are joined.
// Changes committed while the writes run stay dirty for the next Save.
func (s *Show) Save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	recs := s.om.Save()
	gen := s.gen
	s.mu.RUnlock()

	if s.afterSnapshot != nil {
		s.afterSnapshot()
	}

	var errs []error
	if s.controllers != nil {
		if err := s.controllers.ReplaceAll(ctx, recs); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if s.showDir != "" {
		if err := outputs.WriteNetworksFile(s.showDir, recs); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.mu.Lock()
	current := gen == s.gen
	if current {
		s.om.ClearDirty()
	}
	s.mu.Unlock()
	if !current {
		s.log.Warn("controllers changed during save, keeping unsaved changes dirty")
	}

	if s.settings != nil {
		if _, err := s.settings.Upsert(ctx, repositories.SettingLastSave, time.Now().UTC().Format(time.RFC3339)); err != nil {
			s.log.Warnf("failed to record save time: %v", err)
		}
	}

	s.log.Infof("show saved with %d controllers", len(recs))
	s.publish(pubsub.TopicShowSaved, "")
	return nil
}

// IsDirty reports whether there are unsaved changes.
func (s *Show) IsDirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.om.IsDirty()
}

// Discover runs every registered discoverer and merges new controllers into
// the show. Discoverers run without the lock held. Controllers found before
// an error are still merged.
func (s *Show) Discover(ctx context.Context) ([]outputs.Controller, error) {
	found, err := s.om.Registry().DiscoverAll(ctx, nil)

	var added []outputs.Controller
	_ = s.Update(func(om *outputs.Manager) error {
		added = om.MergeDiscovered(found)
		return nil
	})

	if s.settings != nil {
		_, _ = s.settings.Upsert(ctx, repositories.SettingLastDiscovery, time.Now().UTC().Format(time.RFC3339))
	}

	s.log.Infof("discovery found %d controllers, %d new", len(found), len(added))
	s.publish(pubsub.TopicDiscovery, "")
	return added, err
}

// Close cancels pending probes on every controller.
func (s *Show) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.om.Close()
}

func (s *Show) publish(topic pubsub.Topic, filter string) {
	if s.ps != nil {
		s.ps.Publish(topic, filter, topic)
	}
}
