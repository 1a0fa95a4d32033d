package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prudhvinik1/hnnp-cloud/internal/models"
)

// In-memory repositories back tests and single-process deployments that run
// without DATABASE_URL or REDIS_URL. Every method returns copies, so callers
// never share state with the store.

func memKey(parts ...string) string {
	k := ""
	for i, p := range parts {
		if i > 0 {
			k += "\x00"
		}
		k += p
	}
	return k
}

type MemoryReceiverRepository struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewMemoryReceiverRepository() *MemoryReceiverRepository {
	return &MemoryReceiverRepository{secrets: make(map[string]string)}
}

// Put provisions (or rotates) the shared secret for a receiver.
func (r *MemoryReceiverRepository) Put(orgID, receiverID, secret string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secrets[memKey(orgID, receiverID)] = secret
}

func (r *MemoryReceiverRepository) GetSecret(_ context.Context, orgID, receiverID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.secrets[memKey(orgID, receiverID)]
	if !ok {
		return "", ErrNotFound
	}
	return s, nil
}

type MemoryDeviceKeyRepository struct {
	mu   sync.RWMutex
	keys map[string]models.DeviceKeyRecord
}

func NewMemoryDeviceKeyRepository() *MemoryDeviceKeyRepository {
	return &MemoryDeviceKeyRepository{keys: make(map[string]models.DeviceKeyRecord)}
}

func (r *MemoryDeviceKeyRepository) Get(_ context.Context, orgID, deviceID string) (*models.DeviceKeyRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.keys[memKey(orgID, deviceID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (r *MemoryDeviceKeyRepository) Register(_ context.Context, record *models.DeviceKeyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[memKey(record.OrgID, record.DeviceID)] = *record
	return nil
}

type MemoryLinkRepository struct {
	mu    sync.RWMutex
	links map[string]models.Link // by org + link id
}

func NewMemoryLinkRepository() *MemoryLinkRepository {
	return &MemoryLinkRepository{links: make(map[string]models.Link)}
}

func (r *MemoryLinkRepository) Create(_ context.Context, link *models.Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	r.links[memKey(link.OrgID, link.ID)] = *link
	return nil
}

func (r *MemoryLinkRepository) GetByID(_ context.Context, orgID, linkID string) (*models.Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.links[memKey(orgID, linkID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

// FindActive returns the most recently created unrevoked link.
func (r *MemoryLinkRepository) FindActive(_ context.Context, orgID, deviceID string) (*models.Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *models.Link
	for _, l := range r.links {
		if l.OrgID != orgID || l.DeviceID != deviceID || !l.Active() {
			continue
		}
		if found == nil || l.CreatedAt.After(found.CreatedAt) {
			l := l
			found = &l
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (r *MemoryLinkRepository) Revoke(_ context.Context, orgID, linkID string, at time.Time) (*models.Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memKey(orgID, linkID)
	l, ok := r.links[key]
	if !ok || !l.Active() {
		return nil, ErrNotFound
	}
	l.RevokedAt = &at
	r.links[key] = l
	return &l, nil
}

type MemoryPresenceEventRepository struct {
	mu     sync.RWMutex
	events []models.PresenceEvent
}

func NewMemoryPresenceEventRepository() *MemoryPresenceEventRepository {
	return &MemoryPresenceEventRepository{}
}

func (r *MemoryPresenceEventRepository) Append(_ context.Context, event *models.PresenceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	r.events = append(r.events, *event)
	return nil
}

func (r *MemoryPresenceEventRepository) RecentAccepted(_ context.Context, orgID, deviceID string, limit int) ([]*models.PresenceEvent, error) {
	r.mu.RLock()
	var out []*models.PresenceEvent
	for i := range r.events {
		e := r.events[i]
		if e.OrgID == orgID && e.DeviceID == deviceID && e.Accepted() {
			out = append(out, &e)
		}
	}
	r.mu.RUnlock()

	// Stable so equal timestamps keep newest-appended first after the reverse.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryPresenceEventRepository) Count(context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.events)), nil
}

// All returns every stored event in insertion order.
func (r *MemoryPresenceEventRepository) All() []models.PresenceEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.PresenceEvent, len(r.events))
	copy(out, r.events)
	return out
}

type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]models.PresenceSession
	open     map[string]string // org + device -> session id
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]models.PresenceSession),
		open:     make(map[string]string),
	}
}

func (r *MemorySessionRepository) Create(_ context.Context, session *models.PresenceSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = *session
	r.open[memKey(session.OrgID, session.DeviceID)] = session.ID
	return nil
}

func (r *MemorySessionRepository) GetByID(_ context.Context, id string) (*models.PresenceSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (r *MemorySessionRepository) FindOpen(_ context.Context, orgID, deviceID string) (*models.PresenceSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.open[memKey(orgID, deviceID)]
	if !ok {
		return nil, ErrNotFound
	}
	s, ok := r.sessions[id]
	if !ok || !s.Open() {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (r *MemorySessionRepository) Touch(_ context.Context, id, receiverID string, lastSeenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !s.Open() {
		return ErrNotFound
	}
	s.LastSeenAt = lastSeenAt
	s.ReceiverID = receiverID
	r.sessions[id] = s
	return nil
}

func (r *MemorySessionRepository) Close(_ context.Context, id string, at time.Time) error {
	return r.finish(id, func(s *models.PresenceSession) { s.ClosedAt = &at })
}

func (r *MemorySessionRepository) Resolve(_ context.Context, id string, at time.Time) error {
	return r.finish(id, func(s *models.PresenceSession) { s.ResolvedAt = &at })
}

func (r *MemorySessionRepository) finish(id string, mark func(*models.PresenceSession)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !s.Open() {
		return ErrNotFound
	}
	mark(&s)
	r.sessions[id] = s
	key := memKey(s.OrgID, s.DeviceID)
	if r.open[key] == id {
		delete(r.open, key)
	}
	return nil
}

func (r *MemorySessionRepository) CountOpen(context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, s := range r.sessions {
		if s.Open() {
			n++
		}
	}
	return n, nil
}

type MemoryWebhookEndpointRepository struct {
	mu        sync.RWMutex
	endpoints map[string]models.WebhookEndpoint
}

func NewMemoryWebhookEndpointRepository() *MemoryWebhookEndpointRepository {
	return &MemoryWebhookEndpointRepository{endpoints: make(map[string]models.WebhookEndpoint)}
}

func (r *MemoryWebhookEndpointRepository) Put(endpoint models.WebhookEndpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[endpoint.OrgID] = endpoint
}

func (r *MemoryWebhookEndpointRepository) GetByOrg(_ context.Context, orgID string) (*models.WebhookEndpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.endpoints[orgID]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

type MemoryWebhookQueue struct {
	mu       sync.Mutex
	jobs     map[string]models.WebhookJob
	inflight map[string]bool
	dead     []models.WebhookJob // newest first
}

func NewMemoryWebhookQueue() *MemoryWebhookQueue {
	return &MemoryWebhookQueue{
		jobs:     make(map[string]models.WebhookJob),
		inflight: make(map[string]bool),
	}
}

func (q *MemoryWebhookQueue) Enqueue(_ context.Context, job *models.WebhookJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Status = models.WebhookQueued
	q.jobs[job.ID] = *job
	delete(q.inflight, job.ID)
	return nil
}

func (q *MemoryWebhookQueue) ClaimDue(_ context.Context, now time.Time, limit int) ([]*models.WebhookJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*models.WebhookJob
	for id, j := range q.jobs {
		if q.inflight[id] || j.NextRetryAt.After(now) {
			continue
		}
		j := j
		due = append(due, &j)
	}
	sort.Slice(due, func(i, k int) bool { return due[i].NextRetryAt.Before(due[k].NextRetryAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, j := range due {
		q.inflight[j.ID] = true
	}
	return due, nil
}

func (q *MemoryWebhookQueue) Complete(_ context.Context, job *models.WebhookJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Status = models.WebhookDelivered
	delete(q.jobs, job.ID)
	delete(q.inflight, job.ID)
	return nil
}

func (q *MemoryWebhookQueue) Reschedule(ctx context.Context, job *models.WebhookJob) error {
	return q.Enqueue(ctx, job)
}

func (q *MemoryWebhookQueue) DeadLetter(_ context.Context, job *models.WebhookJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Status = models.WebhookDeadLetter
	delete(q.jobs, job.ID)
	delete(q.inflight, job.ID)
	q.dead = append([]models.WebhookJob{*job}, q.dead...)
	return nil
}

func (q *MemoryWebhookQueue) RecoverInflight(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.inflight)
	q.inflight = make(map[string]bool)
	return n, nil
}

func (q *MemoryWebhookQueue) Size(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.jobs)), nil
}

func (q *MemoryWebhookQueue) DeadLetterSize(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.dead)), nil
}

func (q *MemoryWebhookQueue) DeadLetters(_ context.Context, limit int) ([]*models.WebhookJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.dead)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]*models.WebhookJob, 0, n)
	for i := 0; i < n; i++ {
		j := q.dead[i]
		out = append(out, &j)
	}
	return out, nil
}

var (
	_ ReceiverRepository        = (*MemoryReceiverRepository)(nil)
	_ DeviceKeyRepository       = (*MemoryDeviceKeyRepository)(nil)
	_ LinkRepository            = (*MemoryLinkRepository)(nil)
	_ PresenceEventRepository   = (*MemoryPresenceEventRepository)(nil)
	_ PresenceSessionRepository = (*MemorySessionRepository)(nil)
	_ WebhookEndpointRepository = (*MemoryWebhookEndpointRepository)(nil)
	_ WebhookQueue              = (*MemoryWebhookQueue)(nil)

	_ PresenceSessionRepository = (*RedisSessionRepository)(nil)
	_ WebhookQueue              = (*RedisWebhookQueue)(nil)
)
