package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"goldmarket/internal/download"
	"goldmarket/internal/files"
	"goldmarket/internal/ledger"
	"goldmarket/internal/logging"
	"goldmarket/internal/social"
	"goldmarket/internal/store"
	"goldmarket/internal/users"
)

// MaxChunkBody bounds a single chunk request body. Clients send 990KB
// chunks; the slack covers multipart framing.
const MaxChunkBody = files.ChunkSize + 64*1024

// Handler handles HTTP requests.
type Handler struct {
	users     *users.Service
	sessions  *users.Sessions
	ledger    *ledger.Service
	social    *social.Service
	files     *files.Service
	downloads *download.Issuer
	limiter   *UploadSessionLimiter
	mux       *http.ServeMux
}

// NewHandler creates a new HTTP handler.
// If limiter is nil, no upload session limit is enforced.
func NewHandler(
	usersSvc *users.Service,
	sessions *users.Sessions,
	ledgerSvc *ledger.Service,
	socialSvc *social.Service,
	filesSvc *files.Service,
	downloads *download.Issuer,
	limiter *UploadSessionLimiter,
) *Handler {
	h := &Handler{
		users:     usersSvc,
		sessions:  sessions,
		ledger:    ledgerSvc,
		social:    socialSvc,
		files:     filesSvc,
		downloads: downloads,
		limiter:   limiter,
		mux:       http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("POST /api/register", h.handleRegister)
	h.mux.HandleFunc("POST /api/login", h.handleLogin)
	h.mux.HandleFunc("POST /api/password", h.auth(h.handleChangePassword))
	h.mux.HandleFunc("GET /api/me", h.auth(h.handleMe))
	h.mux.HandleFunc("GET /api/files", h.handleListFiles)
	h.mux.HandleFunc("POST /api/sign", h.auth(h.handleSign))
	h.mux.HandleFunc("POST /api/transfer", h.auth(h.handleTransfer))
	h.mux.HandleFunc("POST /api/upload/chunk", h.auth(h.handleUploadChunk))
	h.mux.HandleFunc("POST /api/upload/complete", h.auth(h.handleCompleteUpload))
	h.mux.HandleFunc("DELETE /api/file/{id}", h.auth(h.handleDeleteFile))
	h.mux.HandleFunc("POST /api/file/{id}/like", h.auth(h.handleLike))
	h.mux.HandleFunc("POST /api/file/{id}/collect", h.auth(h.handleCollect))
	h.mux.HandleFunc("POST /api/file/{id}/buy", h.auth(h.handleBuy))
	h.mux.HandleFunc("POST /api/file/{id}/download", h.auth(h.handleGenerateDownload))
	h.mux.HandleFunc("GET /api/download/{token}", h.handleRedeemDownload)
}

func (h *Handler) auth(next http.HandlerFunc) http.HandlerFunc {
	return requireAuth(h.sessions, next)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.HTTP.Printf("failed to encode response: %v", err)
	}
}

func pathID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(r.PathValue("id"), 10, 64)
}

// CredentialsRequest is the request body for register and login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Confirm  string `json:"confirm,omitempty"`
}

// SessionResponse is returned on successful register or login.
type SessionResponse struct {
	Token    string `json:"token"`
	UserID   uint64 `json:"user_id"`
	Username string `json:"username"`
	Gold     int64  `json:"gold"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	user, err := h.users.Register(r.Context(), req.Username, req.Password, req.Confirm)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.writeSession(w, user)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	user, err := h.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.writeSession(w, user)
}

func (h *Handler) writeSession(w http.ResponseWriter, user *store.User) {
	token, err := h.sessions.Issue(user.ID)
	if err != nil {
		logging.HTTP.Printf("failed to issue session: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to issue session")
		return
	}
	writeJSON(w, SessionResponse{
		Token:    token,
		UserID:   user.ID,
		Username: user.Username,
		Gold:     user.Gold,
	})
}

// ChangePasswordRequest is the request body for a password change.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
	Confirm     string `json:"confirm"`
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalID(r)

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	if err := h.users.ChangePassword(r.Context(), principal, req.OldPassword, req.NewPassword, req.Confirm); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ProfileResponse is the authenticated user's own account view.
type ProfileResponse struct {
	UserID      uint64   `json:"user_id"`
	Username    string   `json:"username"`
	Gold        int64    `json:"gold"`
	Level       int      `json:"level"`
	SignStreak  int      `json:"sign_streak"`
	Collections []uint64 `json:"collections"`
	Likes       []uint64 `json:"likes"`
	Purchases   []uint64 `json:"purchases"`
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalID(r)

	user, err := h.users.Get(r.Context(), principal)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := ProfileResponse{
		UserID:      user.ID,
		Username:    user.Username,
		Gold:        user.Gold,
		Level:       user.Level,
		SignStreak:  user.SignStreak,
		Collections: make([]uint64, 0, len(user.Collections)),
		Likes:       make([]uint64, 0, len(user.Likes)),
		Purchases:   make([]uint64, 0, len(user.Purchases)),
	}
	for id := range user.Collections {
		resp.Collections = append(resp.Collections, id)
	}
	for id := range user.Likes {
		resp.Likes = append(resp.Likes, id)
	}
	for id := range user.Purchases {
		resp.Purchases = append(resp.Purchases, id)
	}
	writeJSON(w, resp)
}

// SignResponse is returned on a successful daily sign-in.
type SignResponse struct {
	Reward int64 `json:"reward"`
	Streak int   `json:"streak"`
	Level  int   `json:"level"`
	Gold   int64 `json:"gold"`
}

func (h *Handler) handleSign(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalID(r)

	result, err := h.ledger.SignIn(r.Context(), principal)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, SignResponse{
		Reward: result.Reward,
		Streak: result.Streak,
		Level:  result.Level,
		Gold:   result.Gold,
	})
}

// TransferRequest is the request body for a gold transfer.
type TransferRequest struct {
	ToUserID uint64 `json:"to_user_id"`
	Amount   int64  `json:"amount"`
}

// BalanceResponse reports the caller's new gold balance.
type BalanceResponse struct {
	Gold int64 `json:"gold"`
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalID(r)

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	balance, err := h.ledger.Transfer(r.Context(), principal, req.ToUserID, req.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	logging.Internal.Printf("transfer: from=%d to=%d amount=%d", principal, req.ToUserID, req.Amount)
	writeJSON(w, BalanceResponse{Gold: balance})
}

// ChunkResponse acknowledges a stored chunk.
type ChunkResponse struct {
	Chunk int   `json:"chunk"`
	Size  int64 `json:"size"`
}

func (h *Handler) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalID(r)

	r.Body = http.MaxBytesReader(w, r.Body, MaxChunkBody)
	if err := r.ParseMultipartForm(MaxChunkBody); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid multipart body")
		return
	}

	uploadID := r.FormValue("upload_id")
	index, err := strconv.Atoi(r.FormValue("chunk_index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid chunk_index")
		return
	}
	total, err := strconv.Atoi(r.FormValue("total_chunks"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid total_chunks")
		return
	}

	chunk, _, err := r.FormFile("chunk")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "missing chunk payload")
		return
	}
	defer chunk.Close()

	if h.limiter != nil && !h.limiter.CanOpen(principal, uploadID) {
		msg := fmt.Sprintf("upload session limit reached: you have %d open upload(s) (max %d)",
			h.limiter.OpenCount(principal), h.limiter.MaxOpen())
		writeError(w, http.StatusTooManyRequests, "too_many_uploads", msg)
		return
	}

	size, err := h.files.ReceiveChunk(r.Context(), uploadID, index, total, chunk)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if h.limiter != nil {
		h.limiter.Track(principal, uploadID)
	}

	writeJSON(w, ChunkResponse{Chunk: index, Size: size})
}

// CompleteUploadRequest is the request body for finishing a chunked upload.
type CompleteUploadRequest struct {
	UploadID    string `json:"upload_id"`
	FileName    string `json:"file_name"`
	FileDesc    string `json:"file_desc"`
	Price       int64  `json:"price"`
	TotalChunks int    `json:"total_chunks"`
}

// CompleteUploadResponse is returned when a file has been assembled.
type CompleteUploadResponse struct {
	FileID uint64 `json:"file_id"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
}

func (h *Handler) handleCompleteUpload(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalID(r)

	var req CompleteUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if req.FileName == "" {
		writeError(w, http.StatusBadRequest, "validation", "file_name must not be empty")
		return
	}
	if req.Price < 0 {
		writeError(w, http.StatusBadRequest, "validation", "price must not be negative")
		return
	}

	record, err := h.files.Complete(r.Context(), req.UploadID, principal, req.TotalChunks, files.Meta{
		Name:        req.FileName,
		Description: req.FileDesc,
		Price:       req.Price,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if h.limiter != nil {
		h.limiter.OnComplete(req.UploadID)
	}

	writeJSON(w, CompleteUploadResponse{FileID: record.ID, Name: record.Name, Size: record.SizeBytes})
}

func (h *Handler) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalID(r)

	fileID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid file id")
		return
	}

	if err := h.files.Delete(r.Context(), principal, fileID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FileInfo is one marketplace listing entry.
type FileInfo struct {
	ID            uint64    `json:"id"`
	OwnerID       uint64    `json:"owner_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Price         int64     `json:"price"`
	SizeBytes     int64     `json:"size_bytes"`
	LikeCount     int64     `json:"like_count"`
	CollectCount  int64     `json:"collect_count"`
	PurchaseCount int64     `json:"purchase_count"`
	DownloadCount int64     `json:"download_count"`
	CreatedAt     time.Time `json:"created_at"`
}

func (h *Handler) handleListFiles(w http.ResponseWriter, r *http.Request) {
	records, err := h.files.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	infos := make([]FileInfo, 0, len(records))
	for _, f := range records {
		infos = append(infos, FileInfo{
			ID:            f.ID,
			OwnerID:       f.OwnerID,
			Name:          f.Name,
			Description:   f.Description,
			Price:         f.Price,
			SizeBytes:     f.SizeBytes,
			LikeCount:     f.LikeCount,
			CollectCount:  f.CollectCount,
			PurchaseCount: f.PurchaseCount,
			DownloadCount: f.DownloadCount,
			CreatedAt:     f.CreatedAt,
		})
	}
	writeJSON(w, infos)
}

// ToggleResponse reports whether a like/collect was added or removed.
type ToggleResponse struct {
	Action string `json:"action"`
}

func (h *Handler) handleLike(w http.ResponseWriter, r *http.Request) {
	h.handleToggle(w, r, social.Like)
}

func (h *Handler) handleCollect(w http.ResponseWriter, r *http.Request) {
	h.handleToggle(w, r, social.Collect)
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request, kind social.Kind) {
	principal, _ := principalID(r)

	fileID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid file id")
		return
	}

	action, err := h.social.Toggle(r.Context(), kind, principal, fileID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, ToggleResponse{Action: string(action)})
}

func (h *Handler) handleBuy(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalID(r)

	fileID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid file id")
		return
	}

	balance, err := h.ledger.Purchase(r.Context(), principal, fileID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	logging.Internal.Printf("purchase: buyer=%d file=%d", principal, fileID)
	writeJSON(w, BalanceResponse{Gold: balance})
}

// DownloadLinkResponse carries a freshly minted one-time download URL.
type DownloadLinkResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) handleGenerateDownload(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalID(r)

	fileID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid file id")
		return
	}

	grant, err := h.downloads.Issue(r.Context(), principal, fileID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, DownloadLinkResponse{
		URL:       "/api/download/" + grant.Token,
		ExpiresAt: grant.IssuedAt.Add(h.downloads.TTL()),
	})
}

func (h *Handler) handleRedeemDownload(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "validation", "missing token")
		return
	}

	record, reader, err := h.downloads.Redeem(r.Context(), token)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.Name))
	w.Header().Set("Content-Length", strconv.FormatInt(record.SizeBytes, 10))
	if _, err := io.Copy(w, reader); err != nil {
		logging.HTTP.Printf("download stream interrupted for file %d: %v", record.ID, err)
	}
}
