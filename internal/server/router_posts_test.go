package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/feedsync/internal/feed"
	"github.com/MarcoPoloResearchLab/feedsync/internal/posts"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{FeedService: &stubFeedService{}}); !errors.Is(err, errMissingTokenManager) {
		t.Fatalf("expected missing token manager error, got %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{TokenManager: stubTokenValidator{}}); !errors.Is(err, errMissingFeedService) {
		t.Fatalf("expected missing feed service error, got %v", err)
	}
}

func TestHealthzIsPublic(t *testing.T) {
	handler := newTestHandler(t, &stubFeedService{})
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
}

func TestListPostsUsesAuthenticatedActor(t *testing.T) {
	service := &stubFeedService{
		listResult: []posts.Post{{ID: 2, Content: "second"}, {ID: 1, Content: "first"}},
	}
	handler := newTestHandler(t, service)

	recorder := serve(handler, http.MethodGet, "/api/posts", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	if service.lastActor != "actor-1" {
		t.Fatalf("expected actor from token, got %q", service.lastActor)
	}
	var listed []posts.Post
	if err := json.Unmarshal(recorder.Body.Bytes(), &listed); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != 2 {
		t.Fatalf("unexpected listing %#v", listed)
	}
}

func TestSavePostDecodesBody(t *testing.T) {
	service := &stubFeedService{}
	handler := newTestHandler(t, service)

	recorder := serve(handler, http.MethodPost, "/api/posts", `{"id":0,"content":"hello","attachment":{"url":"a.png","type":"IMAGE"}}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	if service.saved.Content != "hello" || service.saved.Attachment == nil || service.saved.Attachment.Type != posts.AttachmentTypeImage {
		t.Fatalf("unexpected decoded post %#v", service.saved)
	}
	var saved posts.Post
	if err := json.Unmarshal(recorder.Body.Bytes(), &saved); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if saved.ID != 42 {
		t.Fatalf("expected server id, got %d", saved.ID)
	}
}

func TestSavePostRejectsMalformedBody(t *testing.T) {
	handler := newTestHandler(t, &stubFeedService{})
	recorder := serve(handler, http.MethodPost, "/api/posts", `{"id":`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
}

func TestRemovePostRespondsWithoutBody(t *testing.T) {
	service := &stubFeedService{}
	handler := newTestHandler(t, service)

	recorder := serve(handler, http.MethodDelete, "/api/posts/7", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	if service.removedID != 7 {
		t.Fatalf("expected removal of 7, got %d", service.removedID)
	}
	if recorder.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", recorder.Body.String())
	}
}

func TestLikeRoutes(t *testing.T) {
	service := &stubFeedService{}
	handler := newTestHandler(t, service)

	liked := serve(handler, http.MethodPost, "/api/posts/3/likes", "")
	if liked.Code != http.StatusOK {
		t.Fatalf("unexpected like status %d", liked.Code)
	}
	var post posts.Post
	if err := json.Unmarshal(liked.Body.Bytes(), &post); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !post.LikedByMe || post.Likes != 1 {
		t.Fatalf("unexpected like response %#v", post)
	}

	unliked := serve(handler, http.MethodDelete, "/api/posts/3/likes", "")
	if unliked.Code != http.StatusOK {
		t.Fatalf("unexpected unlike status %d", unliked.Code)
	}
	if err := json.Unmarshal(unliked.Body.Bytes(), &post); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if post.LikedByMe || post.Likes != 0 {
		t.Fatalf("unexpected unlike response %#v", post)
	}
}

func TestServiceErrorsMapToStatusCodes(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "bare-service-error",
			err:        &feed.ServiceError{},
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal_error",
		},
		{
			name:       "wrapped-not-found",
			err:        fmt.Errorf("lookup: %w", feed.ErrPostNotFound),
			wantStatus: http.StatusNotFound,
			wantError:  "not_found",
		},
		{
			name:       "invalid-post",
			err:        fmt.Errorf("validate: %w", feed.ErrInvalidPost),
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_request",
		},
		{
			name:       "storage",
			err:        errors.New("disk full"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal_error",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			handler := newTestHandler(t, &stubFeedService{err: testCase.err})
			recorder := serve(handler, http.MethodPost, "/api/posts/9/likes", "")
			if recorder.Code != testCase.wantStatus {
				t.Fatalf("unexpected status %d", recorder.Code)
			}
			var payload map[string]string
			if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if payload["error"] != testCase.wantError {
				t.Fatalf("unexpected error payload %#v", payload)
			}
		})
	}
}

func TestInvalidPostIDIsRejected(t *testing.T) {
	service := &stubFeedService{}
	handler := newTestHandler(t, service)
	recorder := serve(handler, http.MethodDelete, "/api/posts/abc", "")
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	if service.removedID != 0 {
		t.Fatalf("service must not be called for invalid ids")
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	handler := newTestHandler(t, &stubFeedService{})
	request := httptest.NewRequest(http.MethodGet, "/api/posts", http.NoBody)
	request.Header.Set("Authorization", "Bearer token")
	request.Header.Set(requestIDHeader, "req-1")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Header().Get(requestIDHeader) != "req-1" {
		t.Fatalf("expected request id to be echoed, got %q", recorder.Header().Get(requestIDHeader))
	}
}

func newTestHandler(t *testing.T, service *stubFeedService) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: stubTokenValidator{subject: "actor-1"},
		FeedService:  service,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func serve(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, path, strings.NewReader(body))
	request.Header.Set("Authorization", "Bearer token")
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

type stubFeedService struct {
	listResult []posts.Post
	err        error
	lastActor  string
	saved      posts.Post
	removedID  int64
}

func (s *stubFeedService) ListPosts(_ context.Context, actor string) ([]posts.Post, error) {
	s.lastActor = actor
	if s.err != nil {
		return nil, s.err
	}
	return s.listResult, nil
}

func (s *stubFeedService) SavePost(_ context.Context, actor string, dto posts.Post) (posts.Post, error) {
	s.lastActor = actor
	s.saved = dto
	if s.err != nil {
		return posts.Post{}, s.err
	}
	dto.ID = 42
	return dto, nil
}

func (s *stubFeedService) RemovePost(_ context.Context, id int64) error {
	s.removedID = id
	return s.err
}

func (s *stubFeedService) LikePost(_ context.Context, actor string, id int64) (posts.Post, error) {
	s.lastActor = actor
	if s.err != nil {
		return posts.Post{}, s.err
	}
	return posts.Post{ID: id, LikedByMe: true, Likes: 1}, nil
}

func (s *stubFeedService) UnlikePost(_ context.Context, actor string, id int64) (posts.Post, error) {
	s.lastActor = actor
	if s.err != nil {
		return posts.Post{}, s.err
	}
	return posts.Post{ID: id}, nil
}
