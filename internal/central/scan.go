package central

import (
	"context"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/device"
	"github.com/srg/gattkit/internal/groutine"
	"github.com/srg/gattkit/internal/session"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultScanTimeout applies when ScanOptions.Timeout is zero.
const DefaultScanTimeout = 5 * time.Second

// ScanOptions configures one discovery run.
type ScanOptions struct {
	Timeout time.Duration
	// Services restricts results to peripherals advertising one of these services.
	Services []string
	// AllowDuplicates reports every advertisement, not only the first one per peripheral.
	AllowDuplicates bool
	AllowList       []string
	BlockList       []string
	// Filter, when set, must accept an advertisement for it to be reported.
	Filter func(device.Advertisement) bool
}

type scanRun struct {
	gen        uint64
	opts       ScanOptions
	services   []string
	results    *orderedmap.OrderedMap[string, *session.Session]
	onEach     func(*session.Session)
	onComplete func([]*session.Session, error)
	timer      *time.Timer
	active     bool
}

func (r *scanRun) list() []*session.Session {
	out := make([]*session.Session, 0, r.results.Len())
	for pair := r.results.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Scan discovers peripherals until opts.Timeout elapses or StopScan is called.
// onEach is called for every reported peripheral; onComplete is called once with
// the de-duplicated results, in discovery order. A scan still running is ended
// first with ErrScanCancelledByNewScan. Both callbacks run on the callback goroutine.
func (c *Coordinator) Scan(opts ScanOptions, onEach func(*session.Session), onComplete func([]*session.Session, error)) {
	if opts.Timeout <= 0 {
		opts.Timeout = c.opts.ScanTimeout
	}

	c.scanMu.Lock()
	if prev := c.scan; prev != nil {
		c.scanMu.Unlock()
		c.logger.Warn("New scan supersedes the running one")
		c.endScan(prev.gen, device.ErrScanCancelledByNewScan)
		c.scanMu.Lock()
	}
	c.scans++
	run := &scanRun{
		gen:        c.scans,
		opts:       opts,
		services:   device.NormalizeUUIDs(opts.Services),
		results:    orderedmap.New[string, *session.Session](),
		onEach:     onEach,
		onComplete: onComplete,
	}
	c.scan = run
	c.scanMu.Unlock()

	groutine.Go(c.ctx, "gattkit-scan", func(ctx context.Context) {
		c.startScan(ctx, run)
	})
}

func (c *Coordinator) startScan(ctx context.Context, run *scanRun) {
	if !c.CanUse(ctx) {
		c.endScan(run.gen, device.ErrRadioUnavailable)
		return
	}

	c.scanMu.Lock()
	if c.scan != run {
		c.scanMu.Unlock()
		return
	}
	gen := run.gen
	run.active = true
	run.timer = time.AfterFunc(run.opts.Timeout, func() { c.endScan(gen, nil) })
	c.scanMu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"timeout":  run.opts.Timeout,
		"services": run.services,
	}).Info("Scan started")

	err := c.transport.Scan(device.ScanRequest{
		Services:        run.services,
		AllowDuplicates: run.opts.AllowDuplicates,
	})
	if err != nil {
		c.endScan(gen, device.WrapTransport("scan", device.NormalizeError(err)))
	}
}

// StopScan ends the running scan, if any, delivering what was found so far.
func (c *Coordinator) StopScan() {
	c.scanMu.Lock()
	run := c.scan
	c.scanMu.Unlock()
	if run != nil {
		c.endScan(run.gen, nil)
	}
}

// Scanning reports whether a scan is running.
func (c *Coordinator) Scanning() bool {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()
	return c.scan != nil
}

func (c *Coordinator) interruptScan() {
	c.scanMu.Lock()
	run := c.scan
	c.scanMu.Unlock()
	if run != nil {
		c.logger.Warn("Radio became unavailable, interrupting scan")
		c.endScan(run.gen, device.ErrScanInterrupted)
	}
}

func (c *Coordinator) endScan(gen uint64, err error) {
	c.scanMu.Lock()
	run := c.scan
	if run == nil || run.gen != gen {
		c.scanMu.Unlock()
		return
	}
	c.scan = nil
	if run.timer != nil {
		run.timer.Stop()
	}
	results := run.list()
	c.scanMu.Unlock()

	if run.active {
		if stopErr := c.transport.StopScan(); stopErr != nil {
			c.logger.WithField("error", stopErr).Warn("Failed to stop transport scan")
		}
	}

	entry := c.logger.WithField("device_count", len(results))
	if err != nil {
		entry.WithField("error", err).Info("Scan ended")
		c.ReportError("", err)
	} else {
		entry.Info("Scan completed")
	}

	if cb := run.onComplete; cb != nil {
		c.Deliver(func() { cb(results, err) })
	}
}

func (c *Coordinator) onAdvertisement(adv device.Advertisement) {
	adv.Services = device.NormalizeUUIDs(adv.Services)

	c.scanMu.Lock()
	run := c.scan
	if run == nil || !run.active {
		c.scanMu.Unlock()
		if s, ok := c.sessions.Get(adv.ID); ok {
			s.UpdateAdvertisement(adv)
		}
		return
	}
	if !run.accepts(adv) {
		c.scanMu.Unlock()
		return
	}

	_, seen := run.results.Get(adv.ID)
	s := c.Session(adv.ID)
	s.UpdateAdvertisement(adv)
	run.results.Set(adv.ID, s)
	onEach := run.onEach
	c.scanMu.Unlock()

	if seen && !run.opts.AllowDuplicates {
		return
	}
	if !seen {
		c.logger.WithFields(logrus.Fields{
			"device": adv.ID,
			"name":   adv.Name,
			"rssi":   adv.RSSI,
		}).Info("Discovered new device")
	}
	if onEach != nil {
		c.Deliver(func() { onEach(s) })
	}
}

// accepts applies the block, allow, service and caller filters.
func (r *scanRun) accepts(adv device.Advertisement) bool {
	if slices.Contains(r.opts.BlockList, adv.ID) {
		return false
	}
	if len(r.opts.AllowList) > 0 && !slices.Contains(r.opts.AllowList, adv.ID) {
		return false
	}
	if len(r.services) > 0 && !slices.ContainsFunc(adv.Services, func(u string) bool {
		return slices.Contains(r.services, u)
	}) {
		return false
	}
	if r.opts.Filter != nil && !r.opts.Filter(adv) {
		return false
	}
	return true
}
