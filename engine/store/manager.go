package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager is the dual-file persistence layer described by the storage
// manager component: status.json (admin) and users.json (user), each
// guarded by its own mutex so concurrent readers never observe a
// partially-written document and writers never interleave.
type Manager struct {
	siteDir string
	log     *zap.SugaredLogger

	adminMu  sync.Mutex
	admin    *AdminDocument
	usersMu  sync.Mutex
	users    *UserDocument
}

// NewManager loads (or initialises) both documents under siteDir/config.
func NewManager(siteDir string, log *zap.SugaredLogger) (*Manager, error) {
	if err := ensureDir(filepath.Join(siteDir, "config")); err != nil {
		return nil, fmt.Errorf("create site dir: %w", err)
	}

	m := &Manager{siteDir: siteDir, log: log}

	if err := m.migrateLegacyStatus(); err != nil {
		m.log.Warnw("legacy status.json migration skipped", "error", err)
	}

	admin := newAdminDocument()
	if _, err := readJSON(statusPath(siteDir), admin); err != nil {
		m.log.Warnw("status.json unreadable, starting from a fresh document", "error", err)
		admin = newAdminDocument()
	}
	if admin.Items == nil {
		admin.Items = make(map[string]*CodeItem)
	}
	m.admin = admin

	users := newUserDocument()
	if _, err := readJSON(usersPath(siteDir), users); err != nil {
		m.log.Warnw("users.json unreadable, starting from a fresh document", "error", err)
		users = newUserDocument()
	}
	if users.Codes == nil {
		users.Codes = make(map[string]*CodeItem)
	}
	if users.Sessions == nil {
		users.Sessions = make(map[string]*Session)
	}
	if users.VerificationCodes == nil {
		users.VerificationCodes = make(map[string]*VerificationCode)
	}
	if users.PendingAdditions == nil {
		users.PendingAdditions = make(map[string]*PendingAddition)
	}
	m.users = users

	return m, nil
}

// migrateLegacyStatus moves a pre-existing single-file status.json found at
// the site root (rather than under config/) into the admin-store location,
// dropping any embedded user_management section from the legacy shape.
func (m *Manager) migrateLegacyStatus() error {
	legacyPath := filepath.Join(m.siteDir, "status.json")
	if _, err := os.Stat(legacyPath); err != nil {
		return nil // nothing to migrate
	}
	targetPath := statusPath(m.siteDir)
	if _, err := os.Stat(targetPath); err == nil {
		return nil // already migrated
	}

	var legacy struct {
		GeneratedAt time.Time            `json:"generated_at"`
		Items       map[string]*CodeItem `json:"items"`
		// user_management is intentionally not decoded: it is dropped by migration.
	}
	if _, err := readJSON(legacyPath, &legacy); err != nil {
		return err
	}
	if legacy.Items == nil {
		legacy.Items = make(map[string]*CodeItem)
	}
	doc := &AdminDocument{GeneratedAt: legacy.GeneratedAt, Items: legacy.Items}
	if err := writeJSONAtomic(targetPath, doc); err != nil {
		return err
	}
	m.log.Infow("migrated legacy status.json into admin store", "legacy_path", legacyPath)
	return nil
}

// LoadAdmin returns a snapshot of the admin document.
func (m *Manager) LoadAdmin() *AdminDocument {
	m.adminMu.Lock()
	defer m.adminMu.Unlock()
	return cloneAdmin(m.admin)
}

// LoadUsers returns a snapshot of the user document.
func (m *Manager) LoadUsers() *UserDocument {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	return cloneUsers(m.users)
}

// SaveAdmin atomically replaces status.json.
func (m *Manager) SaveAdmin(doc *AdminDocument) error {
	m.adminMu.Lock()
	defer m.adminMu.Unlock()
	doc.GeneratedAt = time.Now()
	if err := writeJSONAtomic(statusPath(m.siteDir), doc); err != nil {
		return err
	}
	m.admin = cloneAdmin(doc)
	return nil
}

// SaveUsers atomically replaces users.json.
func (m *Manager) SaveUsers(doc *UserDocument) error {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	doc.GeneratedAt = time.Now()
	if err := writeJSONAtomic(usersPath(m.siteDir), doc); err != nil {
		return err
	}
	m.users = cloneUsers(doc)
	return nil
}

// UpdateItem routes the write to the store that owns origin/code, stripping
// fields that do not belong to that origin (user metadata on admin items,
// nothing stripped from user items since the fields are native there).
func (m *Manager) UpdateItem(origin Origin, code string, item *CodeItem) error {
	switch origin {
	case OriginAdmin:
		m.adminMu.Lock()
		defer m.adminMu.Unlock()
		clean := *item
		clean.AddedAt = nil
		clean.AddedBy = ""
		m.admin.Items[code] = &clean
		return writeJSONAtomic(statusPath(m.siteDir), m.admin)
	case OriginUser:
		m.usersMu.Lock()
		defer m.usersMu.Unlock()
		clean := *item
		m.users.Codes[code] = &clean
		return writeJSONAtomic(usersPath(m.siteDir), m.users)
	default:
		return fmt.Errorf("unknown origin %q for code %q", origin, code)
	}
}

// GetAdminItem returns a copy of one admin-store item, nil if absent.
func (m *Manager) GetAdminItem(code string) *CodeItem {
	m.adminMu.Lock()
	defer m.adminMu.Unlock()
	item, ok := m.admin.Items[code]
	if !ok {
		return nil
	}
	cp := *item
	return &cp
}

// GetUserItem returns a copy of one user-store item, nil if absent.
func (m *Manager) GetUserItem(code string) *CodeItem {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	item, ok := m.users.Codes[code]
	if !ok {
		return nil
	}
	cp := *item
	return &cp
}

// RemoveAdminItem drops a code from the admin store (used when a declared
// spec is removed from config). It never touches the user store.
func (m *Manager) RemoveAdminItem(code string) error {
	m.adminMu.Lock()
	defer m.adminMu.Unlock()
	delete(m.admin.Items, code)
	return writeJSONAtomic(statusPath(m.siteDir), m.admin)
}

// RemoveUserItem deletes a code the caller owns.
func (m *Manager) RemoveUserItem(code string) error {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	delete(m.users.Codes, code)
	return writeJSONAtomic(usersPath(m.siteDir), m.users)
}

// AddPendingAddition inserts a token-keyed pending addition.
func (m *Manager) AddPendingAddition(token string, p *PendingAddition) error {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	m.users.PendingAdditions[token] = p
	return writeJSONAtomic(usersPath(m.siteDir), m.users)
}

// PopPendingAddition atomically removes and returns a pending addition, nil
// if absent or expired.
func (m *Manager) PopPendingAddition(token string) (*PendingAddition, error) {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	p, ok := m.users.PendingAdditions[token]
	if !ok {
		return nil, nil
	}
	delete(m.users.PendingAdditions, token)
	if err := writeJSONAtomic(usersPath(m.siteDir), m.users); err != nil {
		return nil, err
	}
	if time.Now().After(p.Expires) {
		return nil, nil
	}
	return p, nil
}

// AddSession stores a new session.
func (m *Manager) AddSession(sid string, s *Session) error {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	m.users.Sessions[sid] = s
	return writeJSONAtomic(usersPath(m.siteDir), m.users)
}

// GetSession returns a session, nil if absent or expired.
func (m *Manager) GetSession(sid string) *Session {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	s, ok := m.users.Sessions[sid]
	if !ok || time.Now().After(s.ExpiresAt) {
		return nil
	}
	cp := *s
	return &cp
}

// TouchSession updates last_used on a session.
func (m *Manager) TouchSession(sid string) error {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	s, ok := m.users.Sessions[sid]
	if !ok {
		return nil
	}
	s.LastUsed = time.Now()
	return writeJSONAtomic(usersPath(m.siteDir), m.users)
}

// RemoveSession deletes a session (logout).
func (m *Manager) RemoveSession(sid string) error {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	delete(m.users.Sessions, sid)
	return writeJSONAtomic(usersPath(m.siteDir), m.users)
}

// SetVerificationCode stores a short-lived credential for an email address,
// replacing any prior one.
func (m *Manager) SetVerificationCode(email string, v *VerificationCode) error {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	m.users.VerificationCodes[email] = v
	return writeJSONAtomic(usersPath(m.siteDir), m.users)
}

// PopVerificationCode atomically removes and returns a credential, nil if
// absent or expired.
func (m *Manager) PopVerificationCode(email string) (*VerificationCode, error) {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	v, ok := m.users.VerificationCodes[email]
	if !ok {
		return nil, nil
	}
	delete(m.users.VerificationCodes, email)
	if err := writeJSONAtomic(usersPath(m.siteDir), m.users); err != nil {
		return nil, err
	}
	if time.Now().After(v.Expires) {
		return nil, nil
	}
	return v, nil
}

// FindOwnerOfUserCode returns the email owning a user-store code, "" if unowned.
func (m *Manager) FindOwnerOfUserCode(code string) string {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	item, ok := m.users.Codes[code]
	if !ok || item.AddedBy == "" {
		return ""
	}
	return item.AddedBy
}

// CodesOwnedBy returns the codes a given email registered.
func (m *Manager) CodesOwnedBy(email string) []*CodeItem {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	var out []*CodeItem
	for _, item := range m.users.Codes {
		if item.AddedBy == email {
			cp := *item
			out = append(out, &cp)
		}
	}
	return out
}

// MergedView builds the (origin, spec, item) projection: every declared
// admin spec paired with its item (if any), plus a synthesised spec for
// every user-store code.
func (m *Manager) MergedView(adminSpecs map[string]CodeSpec) []MergedItem {
	m.adminMu.Lock()
	admin := cloneAdmin(m.admin)
	m.adminMu.Unlock()

	m.usersMu.Lock()
	users := cloneUsers(m.users)
	m.usersMu.Unlock()

	out := make([]MergedItem, 0, len(adminSpecs)+len(users.Codes))
	for code, spec := range adminSpecs {
		out = append(out, MergedItem{Origin: OriginAdmin, Spec: spec, Item: admin.Items[code]})
	}
	for code, item := range users.Codes {
		spec := CodeSpec{
			Code:    code,
			Channel: item.Channel,
			Target:  item.Target,
			Note:    item.Note,
		}
		out = append(out, MergedItem{Origin: OriginUser, Spec: spec, Item: item})
	}
	return out
}

// PublicItems returns the sensitive-field-stripped merged view served to
// unauthenticated readers.
func (m *Manager) PublicItems(adminSpecs map[string]CodeSpec) []PublicItem {
	m.adminMu.Lock()
	admin := cloneAdmin(m.admin)
	m.adminMu.Unlock()
	m.usersMu.Lock()
	users := cloneUsers(m.users)
	m.usersMu.Unlock()

	out := make([]PublicItem, 0, len(adminSpecs)+len(users.Codes))
	for code := range adminSpecs {
		item := admin.Items[code]
		out = append(out, toPublic(code, item))
	}
	for code, item := range users.Codes {
		out = append(out, toPublic(code, item))
	}
	return out
}

func toPublic(code string, item *CodeItem) PublicItem {
	if item == nil {
		return PublicItem{Code: code, Status: StatusPending}
	}
	return PublicItem{Code: code, Status: item.Status, LastChecked: item.LastChecked, Note: item.Note}
}

func cloneAdmin(d *AdminDocument) *AdminDocument {
	cp := &AdminDocument{GeneratedAt: d.GeneratedAt, Items: make(map[string]*CodeItem, len(d.Items))}
	for k, v := range d.Items {
		item := *v
		cp.Items[k] = &item
	}
	return cp
}

func cloneUsers(d *UserDocument) *UserDocument {
	cp := &UserDocument{
		GeneratedAt:       d.GeneratedAt,
		Codes:             make(map[string]*CodeItem, len(d.Codes)),
		Sessions:          make(map[string]*Session, len(d.Sessions)),
		VerificationCodes: make(map[string]*VerificationCode, len(d.VerificationCodes)),
		PendingAdditions:  make(map[string]*PendingAddition, len(d.PendingAdditions)),
	}
	for k, v := range d.Codes {
		item := *v
		cp.Codes[k] = &item
	}
	for k, v := range d.Sessions {
		s := *v
		cp.Sessions[k] = &s
	}
	for k, v := range d.VerificationCodes {
		vc := *v
		cp.VerificationCodes[k] = &vc
	}
	for k, v := range d.PendingAdditions {
		p := *v
		cp.PendingAdditions[k] = &p
	}
	return cp
}
