package engine

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/czvisa/monitor/engine/middleware"
	"github.com/czvisa/monitor/engine/notify"
	"github.com/czvisa/monitor/engine/observability"
	"github.com/czvisa/monitor/engine/scheduler"
	"github.com/czvisa/monitor/engine/store"
	"github.com/czvisa/monitor/engine/timeline"
)

const (
	pendingAdditionTTL  = 10 * time.Minute
	verificationCodeTTL = 10 * time.Minute
	sessionTTL          = 7 * 24 * time.Hour
)

// API wires the HTTP surface to the store, scheduler, and notification pipeline.
type API struct {
	store    *store.Manager
	sched    *scheduler.Scheduler
	notifier *notify.Pipeline
	timeline *timeline.Store
	log      *zap.SugaredLogger

	adminEmails map[string]bool
	baseURL     string
	defaultFreq int32 // minutes; updated on each config reload, read via atomic
}

// SetDefaultFreqMinutes updates the frequency newly-verified user codes are
// seeded with. Called by the config watcher's onChange callback.
func (a *API) SetDefaultFreqMinutes(minutes int) {
	atomic.StoreInt32(&a.defaultFreq, int32(minutes))
}

// NewAPI builds the API. adminEmails gates the /admin/... endpoints; baseURL
// is used to build the verify-add link sent by email.
func NewAPI(mgr *store.Manager, sched *scheduler.Scheduler, notifier *notify.Pipeline, tl *timeline.Store, log *zap.SugaredLogger, adminEmails map[string]bool, baseURL string, defaultFreqMinutes int) *API {
	return &API{
		store:       mgr,
		sched:       sched,
		notifier:    notifier,
		timeline:    tl,
		log:         log,
		adminEmails: adminEmails,
		baseURL:     baseURL,
		defaultFreq: int32(defaultFreqMinutes),
	}
}

// Routes builds the HTTP handler tree, including CORS and auth wrapping.
func (a *API) Routes(hub *SchedulerHub) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/add-code", a.handleAddCode)
	mux.HandleFunc("/api/verify-add/", a.handleVerifyAdd)
	mux.HandleFunc("/api/send-manage-code", a.handleSendManageCode)
	mux.HandleFunc("/api/verify-manage", a.handleVerifyManage)
	mux.HandleFunc("/api/delete-code", a.handleDeleteCode)
	mux.HandleFunc("/api/login", a.handleLogin)

	mux.Handle("/metrics", observability.Handler())
	mux.Handle("/admin/ws/scheduler", middleware.RequireAdmin(a.store, a.adminEmails, hub))
	mux.Handle("/admin/debug/timeline", middleware.RequireAdmin(a.store, a.adminEmails, http.HandlerFunc(a.handleDebugTimeline)))

	return middleware.CORS(mux)
}

func (a *API) handleAddCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req struct {
		Code  string `json:"code"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reject(w, "invalid_request", http.StatusBadRequest, "code and email are required")
		return
	}

	code, err := validateCode(req.Code)
	if err != nil {
		reject(w, "invalid_request", http.StatusBadRequest, err.Error())
		return
	}
	email, err := validateEmail(req.Email)
	if err != nil {
		reject(w, "invalid_request", http.StatusBadRequest, err.Error())
		return
	}

	if admin := a.store.GetAdminItem(code); admin != nil {
		if admin.Target == email {
			reject(w, "duplicate_code", http.StatusBadRequest, "this code is already being monitored for this email")
			return
		}
		reject(w, "duplicate_code", http.StatusBadRequest,
			fmt.Sprintf("this code is already being monitored for %s. if this is your code, please contact support.", maskEmail(admin.Target)))
		return
	}
	if owner := a.store.FindOwnerOfUserCode(code); owner != "" {
		if owner == email {
			reject(w, "duplicate_code", http.StatusBadRequest, "this code is already being monitored for this email")
			return
		}
		reject(w, "duplicate_code", http.StatusBadRequest,
			fmt.Sprintf("this code is already being monitored for %s. if this is your code, please contact support.", maskEmail(owner)))
		return
	}

	token := uuid.NewString()
	if err := a.store.AddPendingAddition(token, &store.PendingAddition{
		Code:    code,
		Email:   email,
		Expires: time.Now().Add(pendingAdditionTTL),
	}); err != nil {
		internalError(w, a.log, "persist pending addition", err)
		return
	}

	link := fmt.Sprintf("%s/api/verify-add/%s", a.baseURL, token)
	correlationID := uuid.NewString()
	if err := a.notifier.SendVerificationLink(email, code, link, correlationID); err != nil {
		a.log.Warnw("verification email failed", "email", email, "error", err)
		observability.NotificationsFailed.WithLabelValues(string(notify.KindVerificationLink)).Inc()
	} else {
		observability.NotificationsSent.WithLabelValues(string(notify.KindVerificationLink)).Inc()
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "verification email sent"})
}

func (a *API) handleVerifyAdd(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Path[len("/api/verify-add/"):]
	if token == "" {
		w.WriteHeader(http.StatusBadRequest)
		w.Write(notify.VerifyErrorPage())
		return
	}

	pending, err := a.store.PopPendingAddition(token)
	if err != nil {
		internalError(w, a.log, "pop pending addition", err)
		return
	}
	if pending == nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write(notify.VerifyErrorPage())
		return
	}

	now := time.Now()
	item := &store.CodeItem{
		Code:            pending.Code,
		Status:          store.StatusPending,
		FreqMinutes:     int(atomic.LoadInt32(&a.defaultFreq)),
		UsesDefaultFreq: true,
		FirstCheck:      true,
		Channel:         store.ChannelEmail,
		Target:          pending.Email,
		AddedAt:         &now,
		AddedBy:         pending.Email,
		NextCheck:       &now,
	}
	if err := a.store.UpdateItem(store.OriginUser, pending.Code, item); err != nil {
		internalError(w, a.log, "persist user code", err)
		return
	}

	a.sched.AdoptUserCode(pending.Code)
	a.sched.ScheduleImmediate(pending.Code)

	w.WriteHeader(http.StatusOK)
	w.Write(notify.VerifySuccessPage())
}

func (a *API) handleSendManageCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reject(w, "invalid_request", http.StatusBadRequest, "email is required")
		return
	}
	email, err := validateEmail(req.Email)
	if err != nil {
		reject(w, "invalid_request", http.StatusBadRequest, err.Error())
		return
	}

	codes := a.store.CodesOwnedBy(email)
	if len(codes) == 0 {
		reject(w, "not_found", http.StatusNotFound, "no codes registered to this email")
		return
	}

	mgmtCode, err := randomDigitCode(6)
	if err != nil {
		internalError(w, a.log, "generate management code", err)
		return
	}
	if err := a.store.SetVerificationCode(email, &store.VerificationCode{
		Code:    mgmtCode,
		Expires: time.Now().Add(verificationCodeTTL),
		Type:    store.VerificationManagement,
	}); err != nil {
		internalError(w, a.log, "persist verification code", err)
		return
	}

	correlationID := uuid.NewString()
	if err := a.notifier.SendManagementCode(email, mgmtCode, correlationID); err != nil {
		a.log.Warnw("management code email failed", "email", email, "error", err)
		observability.NotificationsFailed.WithLabelValues(string(notify.KindManagementCode)).Inc()
	} else {
		observability.NotificationsSent.WithLabelValues(string(notify.KindManagementCode)).Inc()
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "management code sent"})
}

func (a *API) handleVerifyManage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Email             string `json:"email"`
		VerificationCode  string `json:"verification_code"`
		SessionID         string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reject(w, "invalid_request", http.StatusBadRequest, "")
		return
	}

	sessionID, err := validateBoundedOptional(req.SessionID, "session_id")
	if err != nil {
		reject(w, "invalid_request", http.StatusBadRequest, err.Error())
		return
	}
	verificationCode, err := validateBoundedOptional(req.VerificationCode, "verification_code")
	if err != nil {
		reject(w, "invalid_request", http.StatusBadRequest, err.Error())
		return
	}
	var rawEmail string
	if req.Email != "" {
		rawEmail, err = validateEmail(req.Email)
		if err != nil {
			reject(w, "invalid_request", http.StatusBadRequest, err.Error())
			return
		}
	}

	email, err := middleware.ResolveEmailOrVerificationCode(a.store, sessionID, rawEmail, verificationCode)
	if err != nil {
		reject(w, "unauthorized", http.StatusUnauthorized, err.Error())
		return
	}

	items := a.store.CodesOwnedBy(email)
	writeJSON(w, http.StatusOK, map[string]interface{}{"codes": items})
}

func (a *API) handleDeleteCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Code             string `json:"code"`
		Email            string `json:"email"`
		VerificationCode string `json:"verification_code"`
		SessionID        string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reject(w, "invalid_request", http.StatusBadRequest, "code is required")
		return
	}

	code, err := validateCode(req.Code)
	if err != nil {
		reject(w, "invalid_request", http.StatusBadRequest, err.Error())
		return
	}
	sessionID, err := validateBoundedOptional(req.SessionID, "session_id")
	if err != nil {
		reject(w, "invalid_request", http.StatusBadRequest, err.Error())
		return
	}
	verificationCode, err := validateBoundedOptional(req.VerificationCode, "verification_code")
	if err != nil {
		reject(w, "invalid_request", http.StatusBadRequest, err.Error())
		return
	}
	var rawEmail string
	if req.Email != "" {
		rawEmail, err = validateEmail(req.Email)
		if err != nil {
			reject(w, "invalid_request", http.StatusBadRequest, err.Error())
			return
		}
	}

	email, err := middleware.ResolveEmailOrVerificationCode(a.store, sessionID, rawEmail, verificationCode)
	if err != nil {
		reject(w, "unauthorized", http.StatusUnauthorized, err.Error())
		return
	}

	if owner := a.store.FindOwnerOfUserCode(code); owner != email {
		reject(w, "unauthorized", http.StatusUnauthorized, "code not owned by this account")
		return
	}

	a.sched.Forget(code)
	if err := a.store.RemoveUserItem(code); err != nil {
		internalError(w, a.log, "remove user code", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "code removed"})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Email            string `json:"email"`
		VerificationCode string `json:"verification_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reject(w, "invalid_request", http.StatusBadRequest, "email and verification_code are required")
		return
	}
	email, err := validateEmail(req.Email)
	if err != nil {
		reject(w, "invalid_request", http.StatusBadRequest, err.Error())
		return
	}
	verificationCode, err := validateBoundedOptional(req.VerificationCode, "verification_code")
	if err != nil || verificationCode == "" {
		reject(w, "invalid_request", http.StatusBadRequest, "email and verification_code are required")
		return
	}

	v, err := a.store.PopVerificationCode(email)
	if err != nil {
		internalError(w, a.log, "pop verification code", err)
		return
	}
	if v == nil || v.Code != verificationCode {
		reject(w, "unauthorized", http.StatusUnauthorized, "invalid or expired verification code")
		return
	}

	sid := uuid.NewString()
	expires := time.Now().Add(sessionTTL)
	if err := a.store.AddSession(sid, &store.Session{
		Email:     email,
		CreatedAt: time.Now(),
		ExpiresAt: expires,
		LastUsed:  time.Now(),
	}); err != nil {
		internalError(w, a.log, "persist session", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"session_id": sid, "expires": expires})
}

func (a *API) handleDebugTimeline(w http.ResponseWriter, r *http.Request) {
	correlationID := r.URL.Query().Get("correlation_id")
	if correlationID == "" {
		reject(w, "invalid_request", http.StatusBadRequest, "correlation_id is required")
		return
	}
	writeJSON(w, http.StatusOK, a.timeline.ByCorrelationID(correlationID))
}

func randomDigitCode(n int) (string, error) {
	const digits = "0123456789"
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random code: %w", err)
	}
	for i, b := range buf {
		buf[i] = digits[int(b)%len(digits)]
	}
	return string(buf), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func reject(w http.ResponseWriter, errCode string, status int, details string) {
	observability.HTTPRejections.WithLabelValues(errCode).Inc()
	body := map[string]string{"error": errCode}
	if details != "" {
		body["details"] = details
	}
	writeJSON(w, status, body)
}

func internalError(w http.ResponseWriter, log *zap.SugaredLogger, action string, err error) {
	log.Errorw("internal error", "action", action, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}
