package device

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/synaptica-ai/bedside-sim/pkg/common/logger"
	"github.com/synaptica-ai/bedside-sim/pkg/observability/metrics"
	"golang.org/x/sync/errgroup"
)

type Category string

const (
	CategoryECG    Category = "ecg"
	CategoryPaired Category = "paired_vitals"
	CategoryLonely Category = "lonely_vitals"
)

// reapTimeout bounds how long reconciliation waits for a paired vitals
// stream when its ECG stream died on its own.
const reapTimeout = 30 * time.Second

// Entry is a point-in-time view of one registered stream.
type Entry struct {
	Category    Category `json:"category"`
	DeviceID    string   `json:"deviceId"`
	Kind        Kind     `json:"deviceKind"`
	PatientID   string   `json:"patientId"`
	FacilityID  string   `json:"facilityId"`
	AdmissionID string   `json:"admissionId"`
	PairedWith  string   `json:"pairedWith,omitempty"`
	State       RunState `json:"state"`

	patient *PatientContext
}

// Patient returns the context shared with the stream.
func (e Entry) Patient() *PatientContext {
	return e.patient
}

type EventType string

const (
	EventStarted EventType = "started"
	EventStopped EventType = "stopped"
	EventFailed  EventType = "failed"
)

type Event struct {
	Type  EventType
	Entry Entry
	Err   error
	At    time.Time
}

// Observer is told about registry mutations after the lock is released.
type Observer interface {
	Observe(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

type Option func(*Registry)

func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observers = append(r.observers, o)
	}
}

// Registry tracks every running stream and the ECG to vitals pairings. All
// operations run under one lock, so category placement, pairing and removal
// are atomic with respect to each other.
type Registry struct {
	mu     sync.RWMutex
	ecg    map[string]Stream
	paired map[string]Stream
	lonely map[string]Stream
	// pairs maps an ECG device id to the vitals device id paired with it.
	pairs  map[string]string
	closed bool

	observers []Observer
	watchers  sync.WaitGroup
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		ecg:    make(map[string]Stream),
		paired: make(map[string]Stream),
		lonely: make(map[string]Stream),
		pairs:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterECG inserts and starts an ECG stream.
func (r *Registry) RegisterECG(s Stream) (string, error) {
	id := s.Identity().ID
	if s.Identity().Kind != KindECG {
		return "", deviceErr("register ecg", id, ErrKindMismatch)
	}
	if s.Patient() == nil {
		return "", deviceErr("register ecg", id, ErrMissingPatient)
	}

	r.mu.Lock()
	if err := r.admitLocked(id); err != nil {
		r.mu.Unlock()
		return "", deviceErr("register ecg", id, err)
	}
	if err := s.Start(); err != nil {
		r.mu.Unlock()
		return "", err
	}
	r.ecg[id] = s
	r.watch(s)
	entry := r.entryLocked(CategoryECG, s)
	r.mu.Unlock()

	r.notify(Event{Type: EventStarted, Entry: entry})
	return id, nil
}

// RegisterVitals inserts and starts a vitals stream. With an empty ecgID the
// stream runs lonely; otherwise it is paired with that ECG stream.
func (r *Registry) RegisterVitals(s Stream, ecgID string) error {
	id := s.Identity().ID
	if s.Identity().Kind != KindVitals {
		return deviceErr("register vitals", id, ErrKindMismatch)
	}
	if s.Patient() == nil {
		return deviceErr("register vitals", id, ErrMissingPatient)
	}

	r.mu.Lock()
	if err := r.admitLocked(id); err != nil {
		r.mu.Unlock()
		return deviceErr("register vitals", id, err)
	}

	category := CategoryLonely
	if ecgID != "" {
		if err := r.pairableLocked(ecgID, s); err != nil {
			r.mu.Unlock()
			return err
		}
		category = CategoryPaired
	}

	if err := s.Start(); err != nil {
		r.mu.Unlock()
		return err
	}
	if category == CategoryPaired {
		r.paired[id] = s
		r.pairs[ecgID] = id
	} else {
		r.lonely[id] = s
	}
	r.watch(s)
	entry := r.entryLocked(category, s)
	r.mu.Unlock()

	r.notify(Event{Type: EventStarted, Entry: entry})
	return nil
}

// Associate starts a vitals stream paired with a running, unpaired ECG stream.
func (r *Registry) Associate(ecgID string, s Stream) error {
	if ecgID == "" {
		return deviceErr("associate", ecgID, ErrUnknownDevice)
	}
	return r.RegisterVitals(s, ecgID)
}

// Disassociate stops and removes the vitals stream paired with ecgID. It is a
// no-op when the ECG stream has no pairing.
func (r *Registry) Disassociate(ctx context.Context, ecgID string) error {
	r.mu.Lock()
	if _, ok := r.ecg[ecgID]; !ok {
		r.mu.Unlock()
		return deviceErr("disassociate", ecgID, ErrUnknownDevice)
	}
	vitalsID, ok := r.pairs[ecgID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	events, err := r.stopPairedLocked(ctx, ecgID, vitalsID)
	r.mu.Unlock()

	r.notify(events...)
	return err
}

// Stop cancels and removes the stream with the given id. Stopping an ECG
// stream also stops the vitals stream paired with it.
func (r *Registry) Stop(ctx context.Context, id string) error {
	var (
		events []Event
		err    error
	)

	r.mu.Lock()
	switch {
	case r.ecg[id] != nil:
		events, err = r.stopECGLocked(ctx, id)
	case r.lonely[id] != nil:
		var ev Event
		ev, err = r.stopLocked(ctx, CategoryLonely, r.lonely[id])
		if err == nil {
			delete(r.lonely, id)
			events = append(events, ev)
		}
	case r.paired[id] != nil:
		events, err = r.stopPairedLocked(ctx, r.ecgForLocked(id), id)
	default:
		err = deviceErr("stop", id, ErrUnknownDevice)
	}
	r.mu.Unlock()

	r.notify(events...)
	return err
}

// List returns a snapshot of every registered stream ordered by category
// and device id.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.ecg)+len(r.paired)+len(r.lonely))
	for _, s := range r.ecg {
		entries = append(entries, r.entryLocked(CategoryECG, s))
	}
	for _, s := range r.paired {
		entries = append(entries, r.entryLocked(CategoryPaired, s))
	}
	for _, s := range r.lonely {
		entries = append(entries, r.entryLocked(CategoryLonely, s))
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Category != entries[j].Category {
			return categoryRank(entries[i].Category) < categoryRank(entries[j].Category)
		}
		return entries[i].DeviceID < entries[j].DeviceID
	})
	return entries
}

func (r *Registry) Lookup(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.ecg[id]; ok {
		return r.entryLocked(CategoryECG, s), true
	}
	if s, ok := r.paired[id]; ok {
		return r.entryLocked(CategoryPaired, s), true
	}
	if s, ok := r.lonely[id]; ok {
		return r.entryLocked(CategoryLonely, s), true
	}
	return Entry{}, false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ecg) + len(r.paired) + len(r.lonely)
}

type member struct {
	category Category
	stream   Stream
}

// Shutdown stops every stream, waits for all loops to exit and refuses
// further registrations. Streams that stopped are removed and reported even
// when another stream could not be stopped before ctx ended.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	all := make([]member, 0, len(r.ecg)+len(r.paired)+len(r.lonely))
	for _, s := range r.ecg {
		all = append(all, member{CategoryECG, s})
	}
	for _, s := range r.paired {
		all = append(all, member{CategoryPaired, s})
	}
	for _, s := range r.lonely {
		all = append(all, member{CategoryLonely, s})
	}

	results := make([]Event, len(all))
	var g errgroup.Group
	for i, m := range all {
		i, m := i, m
		g.Go(func() error {
			ev, err := r.stopLocked(ctx, m.category, m.stream)
			results[i] = ev
			return err
		})
	}
	err := g.Wait()

	events := make([]Event, 0, len(all))
	for i, m := range all {
		if results[i].Type == "" {
			continue
		}
		r.removeLocked(m.category, m.stream.Identity().ID)
		events = append(events, results[i])
	}
	r.mu.Unlock()

	r.notify(events...)
	if err != nil {
		return err
	}
	r.watchers.Wait()
	logger.Log.WithField("streams", len(all)).Info("registry shut down")
	return nil
}

// removeLocked drops a stopped stream and any association it took part in.
func (r *Registry) removeLocked(category Category, id string) {
	switch category {
	case CategoryECG:
		delete(r.ecg, id)
		delete(r.pairs, id)
	case CategoryPaired:
		delete(r.paired, id)
		delete(r.pairs, r.ecgForLocked(id))
	case CategoryLonely:
		delete(r.lonely, id)
	}
}

func (r *Registry) admitLocked(id string) error {
	if r.closed {
		return ErrRegistryClosed
	}
	if r.ecg[id] != nil || r.paired[id] != nil || r.lonely[id] != nil {
		return ErrDuplicateIdentity
	}
	return nil
}

func (r *Registry) pairableLocked(ecgID string, vitals Stream) error {
	ecg, ok := r.ecg[ecgID]
	if !ok {
		return deviceErr("associate", ecgID, ErrUnknownDevice)
	}
	if _, taken := r.pairs[ecgID]; taken {
		return deviceErr("associate", ecgID, ErrAlreadyPaired)
	}
	if !ecg.Patient().SamePatient(vitals.Patient()) {
		return deviceErr("associate", ecgID, ErrPatientMismatch)
	}
	return nil
}

// stopLocked stops one stream and builds the event for it. A stream whose
// stop command failed is still considered stopped once its loop exited.
func (r *Registry) stopLocked(ctx context.Context, category Category, s Stream) (Event, error) {
	entry := r.entryLocked(category, s)
	err := s.Stop(ctx)
	if err != nil && !errors.Is(err, ErrSinkUnavailable) {
		return Event{}, err
	}
	if err != nil {
		logger.WithDevice(entry.DeviceID, string(entry.Kind), entry.PatientID).
			WithError(err).Warn("stream stopped without control-plane acknowledgement")
	}
	entry.State = s.State()
	return Event{Type: EventStopped, Entry: entry, Err: s.Err(), At: time.Now()}, nil
}

func (r *Registry) stopECGLocked(ctx context.Context, ecgID string) ([]Event, error) {
	ev, err := r.stopLocked(ctx, CategoryECG, r.ecg[ecgID])
	if err != nil {
		return nil, err
	}
	delete(r.ecg, ecgID)
	events := []Event{ev}

	vitalsID, ok := r.pairs[ecgID]
	if !ok {
		return events, nil
	}
	more, err := r.stopPairedLocked(ctx, ecgID, vitalsID)
	return append(events, more...), err
}

func (r *Registry) stopPairedLocked(ctx context.Context, ecgID, vitalsID string) ([]Event, error) {
	ev, err := r.stopLocked(ctx, CategoryPaired, r.paired[vitalsID])
	if err != nil {
		return nil, err
	}
	delete(r.paired, vitalsID)
	delete(r.pairs, ecgID)
	return []Event{ev}, nil
}

func (r *Registry) ecgForLocked(vitalsID string) string {
	for ecgID, vid := range r.pairs {
		if vid == vitalsID {
			return ecgID
		}
	}
	return ""
}

func (r *Registry) entryLocked(category Category, s Stream) Entry {
	id := s.Identity()
	p := s.Patient()
	e := Entry{
		Category:    category,
		DeviceID:    id.ID,
		Kind:        id.Kind,
		PatientID:   p.PatientID,
		FacilityID:  p.FacilityID,
		AdmissionID: p.AdmissionID,
		State:       s.State(),
		patient:     p,
	}
	switch category {
	case CategoryECG:
		e.PairedWith = r.pairs[id.ID]
	case CategoryPaired:
		e.PairedWith = r.ecgForLocked(id.ID)
	}
	return e
}

// watch reconciles a stream whose loop exits without being asked to.
func (r *Registry) watch(s Stream) {
	r.watchers.Add(1)
	go func() {
		defer r.watchers.Done()
		<-s.Done()
		r.reap(s)
	}()
}

// reap removes a stream whose loop has exited but which is still
// registered, either because it failed or because a stop timed out. A dead
// ECG stream takes its paired vitals stream with it.
func (r *Registry) reap(s Stream) {
	id := s.Identity().ID
	ctx, cancel := context.WithTimeout(context.Background(), reapTimeout)
	defer cancel()

	var (
		events   []Event
		category Category
	)

	r.mu.Lock()
	switch {
	case r.ecg[id] == s:
		category = CategoryECG
	case r.paired[id] == s:
		category = CategoryPaired
	case r.lonely[id] == s:
		category = CategoryLonely
	default:
		r.mu.Unlock()
		return
	}

	ev, err := r.stopLocked(ctx, category, s)
	if err != nil {
		// The loop is gone, so only the control-plane notice can be missing.
		ev = Event{Type: EventStopped, Entry: r.entryLocked(category, s), Err: s.Err(), At: time.Now()}
	}
	if ev.Err != nil {
		ev.Type = EventFailed
	}
	events = append(events, ev)

	switch category {
	case CategoryECG:
		delete(r.ecg, id)
		if vitalsID, ok := r.pairs[id]; ok {
			more, err := r.stopPairedLocked(ctx, id, vitalsID)
			if err != nil {
				logger.Log.WithError(err).WithField("device_id", vitalsID).Error("failed to stop orphaned vitals stream")
			}
			events = append(events, more...)
		}
	case CategoryPaired:
		delete(r.paired, id)
		delete(r.pairs, ev.Entry.PairedWith)
	case CategoryLonely:
		delete(r.lonely, id)
	}
	r.mu.Unlock()

	r.notify(events...)
}

func (r *Registry) notify(events ...Event) {
	if len(events) == 0 {
		return
	}
	r.publishGauges()
	for _, ev := range events {
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		for _, o := range r.observers {
			o.Observe(ev)
		}
	}
}

func (r *Registry) publishGauges() {
	r.mu.RLock()
	ecg, paired, lonely := len(r.ecg), len(r.paired), len(r.lonely)
	r.mu.RUnlock()
	metrics.SetActiveStreams(string(CategoryECG), ecg)
	metrics.SetActiveStreams(string(CategoryPaired), paired)
	metrics.SetActiveStreams(string(CategoryLonely), lonely)
}

func categoryRank(c Category) int {
	switch c {
	case CategoryECG:
		return 0
	case CategoryPaired:
		return 1
	default:
		return 2
	}
}
