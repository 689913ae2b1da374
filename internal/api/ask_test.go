package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sqlchat/sqlchat/internal/ask"
)

func TestAskReturnsAnswerPayload(t *testing.T) {
	chartData := "base64-image"
	asker := &stubAsker{answer: func(_ context.Context, _, question string) (ask.Response, error) {
		if question != "how many patients" {
			t.Fatalf("question = %q", question)
		}
		return ask.Response{
			Summary:      "<b>5</b> patients",
			SQLStatement: "SELECT COUNT(*) FROM patients",
			ChartImage:   &chartData,
		}, nil
	}}
	handler := NewHandler(testConfig(t), Dependencies{Asker: asker})

	request := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"message":"how many patients"}`))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("ask status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		Summary      string  `json:"summary"`
		SQLStatement string  `json:"sql_statement"`
		ChartImage   *string `json:"chart_image"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.Summary != "<b>5</b> patients" {
		t.Fatalf("summary = %q", payload.Summary)
	}
	if payload.SQLStatement != "SELECT COUNT(*) FROM patients" {
		t.Fatalf("sql_statement = %q", payload.SQLStatement)
	}
	if payload.ChartImage == nil || *payload.ChartImage != chartData {
		t.Fatalf("chart_image = %v", payload.ChartImage)
	}
}

func TestAskNullChartImageStaysInPayload(t *testing.T) {
	asker := &stubAsker{answer: func(context.Context, string, string) (ask.Response, error) {
		return ask.Response{Summary: "text only"}, nil
	}}
	handler := NewHandler(testConfig(t), Dependencies{Asker: asker})

	request := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"message":"hi"}`))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if !strings.Contains(recorder.Body.String(), `"chart_image":null`) {
		t.Fatalf("body = %q, want explicit null chart_image", recorder.Body.String())
	}
}

func TestAskIssuesSessionCookie(t *testing.T) {
	asker := &stubAsker{}
	handler := NewHandler(testConfig(t), Dependencies{Asker: asker})

	request := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"message":"hi"}`))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	cookies := recorder.Result().Cookies()
	var sessionCookie *http.Cookie
	for _, cookie := range cookies {
		if cookie.Name == sessionCookieName {
			sessionCookie = cookie
		}
	}
	if sessionCookie == nil || sessionCookie.Value == "" {
		t.Fatalf("no %s cookie in %v", sessionCookieName, cookies)
	}
	if len(asker.sessions) != 1 || asker.sessions[0] != sessionCookie.Value {
		t.Fatalf("asker sessions = %v, cookie = %q", asker.sessions, sessionCookie.Value)
	}
}

func TestAskReusesExistingSessionCookie(t *testing.T) {
	asker := &stubAsker{}
	handler := NewHandler(testConfig(t), Dependencies{Asker: asker})

	request := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"message":"hi"}`))
	request.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "existing-session"})
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if len(asker.sessions) != 1 || asker.sessions[0] != "existing-session" {
		t.Fatalf("asker sessions = %v, want existing-session", asker.sessions)
	}
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == sessionCookieName {
			t.Fatalf("cookie reissued: %v", cookie)
		}
	}
}

func TestAskEmptyBodyIsAccepted(t *testing.T) {
	var seenQuestion string
	asker := &stubAsker{answer: func(_ context.Context, _, question string) (ask.Response, error) {
		seenQuestion = question
		return ask.Response{Summary: "examples"}, nil
	}}
	handler := NewHandler(testConfig(t), Dependencies{Asker: asker})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/ask", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("ask status = %d", recorder.Code)
	}
	if seenQuestion != "" {
		t.Fatalf("question = %q, want empty passthrough", seenQuestion)
	}
}

func TestAskMalformedBody(t *testing.T) {
	handler := NewHandler(testConfig(t), Dependencies{Asker: &stubAsker{}})

	request := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader("{not json"))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("ask status = %d, want %d", recorder.Code, http.StatusBadRequest)
	}
}

func TestAskFailureReturnsErrorObject(t *testing.T) {
	asker := &stubAsker{answer: func(context.Context, string, string) (ask.Response, error) {
		return ask.Response{}, errors.New("invoke agent: upstream unavailable")
	}}
	handler := NewHandler(testConfig(t), Dependencies{Asker: asker})

	request := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"message":"hi"}`))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("ask status = %d, want %d", recorder.Code, http.StatusInternalServerError)
	}
	var payload map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["error"] != "invoke agent: upstream unavailable" {
		t.Fatalf("error payload = %v", payload)
	}
}

func TestResetEndpoint(t *testing.T) {
	asker := &stubAsker{}
	handler := NewHandler(testConfig(t), Dependencies{Asker: asker})

	request := httptest.NewRequest(http.MethodPost, "/reset", nil)
	request.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "session-9"})
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("reset status = %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "Conversation history has been reset.") {
		t.Fatalf("reset body = %q", recorder.Body.String())
	}
	if len(asker.sessions) != 1 || asker.sessions[0] != "session-9" {
		t.Fatalf("asker sessions = %v, want session-9", asker.sessions)
	}
}

func TestResetFailure(t *testing.T) {
	asker := &stubAsker{reset: func(context.Context, string) error {
		return errors.New("store offline")
	}}
	handler := NewHandler(testConfig(t), Dependencies{Asker: asker})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/reset", nil))

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("reset status = %d, want %d", recorder.Code, http.StatusInternalServerError)
	}
}
