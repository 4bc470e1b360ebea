// Package api exposes the access controller over HTTP. Routing and encoding
// live here; every rule that matters is in the service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/linkvault/linkvault/internal/auth"
	"github.com/linkvault/linkvault/internal/config"
	"github.com/linkvault/linkvault/internal/service"
)

// Server hosts the HTTP handlers.
type Server struct {
	cfg     *config.Config
	svc     *service.Service
	authn   *auth.Authenticator
	log     zerolog.Logger
	httpSrv *http.Server
}

// New constructs a Server.
func New(cfg *config.Config, svc *service.Service, authn *auth.Authenticator, log zerolog.Logger) *Server {
	return &Server{cfg: cfg, svc: svc, authn: authn, log: log}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.Routes(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("address", s.cfg.Address).Msg("api listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Routes builds the router; exported so tests can mount it on httptest.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.authenticate)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/links", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleListOwned)
		r.Get("/{id}", s.handleConsume)
		r.Get("/{id}/download", s.handleDownload)
		r.Delete("/{id}", s.handleDelete)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createJSONBody struct {
	Text             string `json:"text"`
	Password         string `json:"password"`
	BurnAfterRead    bool   `json:"burnAfterRead"`
	MaxAccess        *int   `json:"maxAccess"`
	ExpiresInMinutes int    `json:"expiresInMinutes"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var (
		in  service.CreateInput
		tmp *tempUpload
	)
	if p, ok := auth.FromContext(r.Context()); ok {
		in.OwnerID = p.ID
	}

	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "multipart/form-data"):
		parsed, staged, err := s.parseMultipartCreate(w, r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		tmp = staged
		in.Text = parsed.Text
		in.Password = parsed.Password
		in.BurnAfterRead = parsed.BurnAfterRead
		in.MaxAccess = parsed.MaxAccess
		in.ExpiresIn = time.Duration(parsed.ExpiresInMinutes) * time.Minute
	default:
		var body createJSONBody
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
		if err := dec.Decode(&body); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: malformed request body", service.ErrValidation))
			return
		}
		in.Text = body.Text
		in.Password = body.Password
		in.BurnAfterRead = body.BurnAfterRead
		in.MaxAccess = body.MaxAccess
		in.ExpiresIn = time.Duration(body.ExpiresInMinutes) * time.Minute
	}

	if tmp != nil {
		// The staged file is removed on every exit path.
		defer tmp.cleanup()
		in.File = &service.FileUpload{
			Name:        tmp.filename,
			ContentType: tmp.contentType,
			Size:        tmp.size,
			Reader:      tmp.f,
		}
	}

	res, err := s.svc.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := s.svc.Consume(r.Context(), id, r.URL.Query().Get("password"))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			// Missing and expired collapse into the same refusal.
			respondError(w, http.StatusForbidden, "link is invalid or has expired")
			return
		}
		s.writeError(w, r, err)
		return
	}
	noCache(w)
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.svc.Download(r.Context(), id, r.URL.Query().Get("password"))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			respondError(w, http.StatusForbidden, "link is invalid or has expired")
			return
		}
		s.writeError(w, r, err)
		return
	}
	// Close fires burn cleanup exactly once, also when the client is gone.
	defer res.Body.Close()

	noCache(w)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.FileName))
	w.Header().Set("Content-Type", "application/octet-stream")
	if res.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.Size, 10))
	}
	if _, err := io.Copy(w, res.Body); err != nil {
		s.log.Debug().Err(err).Str("id", id).Msg("download stream aborted")
	}
}

type deleteBody struct {
	DeleteToken string `json:"deleteToken"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cred := service.DeleteCredential{DeleteToken: r.Header.Get("X-Delete-Token")}
	if cred.DeleteToken == "" && r.Body != nil {
		var body deleteBody
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err == nil {
			cred.DeleteToken = body.DeleteToken
		}
	}
	if p, ok := auth.FromContext(r.Context()); ok {
		cred.OwnerID = p.ID
	}
	if err := s.svc.Delete(r.Context(), id, cred); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not found")
			return
		}
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "link deleted"})
}

func (s *Server) handleListOwned(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	views, err := s.svc.ListOwned(r.Context(), p.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, views)
}

// parseMultipartCreate streams the form, staging at most one file part into a
// temp file so the blob adapter gets a seekable reader.
func (s *Server) parseMultipartCreate(w http.ResponseWriter, r *http.Request) (*createJSONBody, *tempUpload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: expecting multipart form", service.ErrValidation)
	}
	body := &createJSONBody{}
	var staged *tempUpload
	fields := map[string]string{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			cleanupStaged(staged)
			return nil, nil, fmt.Errorf("%w: malformed multipart form", service.ErrValidation)
		}
		if part.FormName() == "file" && part.FileName() != "" {
			if staged != nil {
				part.Close()
				cleanupStaged(staged)
				return nil, nil, fmt.Errorf("%w: only one file allowed", service.ErrValidation)
			}
			staged, err = s.persistTemp(part)
			part.Close()
			if err != nil {
				return nil, nil, err
			}
			continue
		}
		val, err := io.ReadAll(io.LimitReader(part, 64<<10))
		part.Close()
		if err != nil {
			cleanupStaged(staged)
			return nil, nil, fmt.Errorf("%w: read form field", service.ErrValidation)
		}
		fields[part.FormName()] = string(val)
	}

	body.Text = fields["text"]
	body.Password = fields["password"]
	// Boolean-like fields are strict: anything but "true"/"false" is
	// rejected instead of coerced.
	body.BurnAfterRead, err = parseStrictBool(fields["burnAfterRead"])
	if err != nil {
		cleanupStaged(staged)
		return nil, nil, err
	}
	if raw := strings.TrimSpace(fields["maxAccess"]); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			cleanupStaged(staged)
			return nil, nil, fmt.Errorf("%w: max access must be an integer", service.ErrValidation)
		}
		body.MaxAccess = &n
	}
	if raw := strings.TrimSpace(fields["expiresInMinutes"]); raw != "" {
		// Absent or unparseable expiry falls back to the default lifetime.
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			body.ExpiresInMinutes = n
		}
	}
	return body, staged, nil
}

func parseStrictBool(v string) (bool, error) {
	switch v {
	case "", "false":
		return false, nil
	case "true":
		return true, nil
	default:
		return false, fmt.Errorf("%w: boolean field must be \"true\" or \"false\"", service.ErrValidation)
	}
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

func (t *tempUpload) cleanup() {
	t.f.Close()
	os.Remove(t.path)
}

func cleanupStaged(t *tempUpload) {
	if t != nil {
		t.cleanup()
	}
}

func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "linkvault-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	fail := func(err error) (*tempUpload, error) {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, err
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxFileSize {
				return fail(fmt.Errorf("%w: file exceeds limit (%d bytes)", service.ErrValidation, s.cfg.MaxFileSize))
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				return fail(fmt.Errorf("write temp file: %w", err))
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return fail(fmt.Errorf("%w: read file", service.ErrValidation))
		}
	}
	if written == 0 {
		return fail(fmt.Errorf("%w: empty file", service.ErrValidation))
	}
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return fail(fmt.Errorf("rewind temp file: %w", err))
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: http.DetectContentType(sniff),
		filename:    part.FileName(),
	}, nil
}

// writeError maps the service taxonomy onto HTTP statuses. Raw detail is
// only surfaced in dev mode.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrAuthRequired):
		respondError(w, http.StatusUnauthorized, "password required")
	case errors.Is(err, service.ErrAuthRejected):
		respondError(w, http.StatusForbidden, "incorrect password")
	case errors.Is(err, service.ErrQuotaExceeded):
		respondError(w, http.StatusForbidden, "max access count reached")
	case errors.Is(err, service.ErrForbidden):
		respondError(w, http.StatusForbidden, "not authorized")
	case errors.Is(err, service.ErrConflict):
		respondError(w, http.StatusConflict, "could not allocate identifier, retry")
	case errors.Is(err, service.ErrStorageUnavailable):
		if s.cfg.DevMode {
			respondError(w, http.StatusServiceUnavailable, err.Error())
		} else {
			respondError(w, http.StatusServiceUnavailable, "storage unavailable")
		}
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("internal error")
		if s.cfg.DevMode {
			respondError(w, http.StatusInternalServerError, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, "internal error")
		}
	}
}

// authenticate resolves an optional bearer token. No token means anonymous;
// a bad token is refused rather than downgraded.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		tok := strings.TrimPrefix(header, "Bearer ")
		p, err := s.authn.Verify(tok)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func noCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
