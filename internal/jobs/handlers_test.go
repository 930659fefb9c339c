package jobs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupJobsTestRouter(svc *Service, outputDir string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	svc.RegisterRoutes(router, outputDir)
	return router
}

func TestJobRoutesUnknownJobReturn404(t *testing.T) {
	router := setupJobsTestRouter(NewService(nil), t.TempDir())

	unknown := "00000000-0000-0000-0000-000000000000"
	tests := []struct {
		method, path string
	}{
		{"GET", "/api/dumps/" + unknown},
		{"GET", "/api/dumps/" + unknown + "/download"},
		{"DELETE", "/api/dumps/" + unknown},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(tt.method, tt.path, nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", tt.method, tt.path)
	}
}

func TestJobRoutesMalformedJobIDReturns400(t *testing.T) {
	router := setupJobsTestRouter(NewService(nil), t.TempDir())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/dumps/not-a-uuid", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleStartMintsTokenForSecuredLayer(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"token":   "sekret",
			"expires": float64(time.Now().Add(time.Hour).UnixMilli()),
		})
	}))
	defer tokenSrv.Close()

	var metadataToken, queryToken string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		metadataToken = r.URL.Query().Get("token")
		writeJSON(t, w, map[string]interface{}{
			"maxRecordCount": 1000,
			"objectIdField":  "OBJECTID",
		})
	})
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		queryToken = r.FormValue("token")
		switch {
		case r.FormValue("returnCountOnly") == "true":
			writeJSON(t, w, map[string]interface{}{"count": 1})
		case r.FormValue("returnIdsOnly") == "true":
			writeJSON(t, w, map[string]interface{}{"objectIds": []interface{}{1.0}})
		default:
			writeJSON(t, w, map[string]interface{}{"features": []map[string]interface{}{
				{"attributes": map[string]interface{}{"OBJECTID": 1.0}},
			}})
		}
	})
	layer := httptest.NewServer(mux)
	defer layer.Close()

	svc := NewService(nil)
	router := setupJobsTestRouter(svc, t.TempDir())

	body, err := json.Marshal(map[string]interface{}{
		"layer_url": layer.URL,
		"username":  "u",
		"password":  "p",
		"token_url": tokenSrv.URL,
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/dumps", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var startResp struct {
		Data struct {
			JobID string `json:"job_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &startResp))

	require.Eventually(t, func() bool {
		s, ok := svc.Get(startResp.Data.JobID)
		return ok && s.Status == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "sekret", metadataToken, "minted token must reach the layer descriptor request")
	assert.Equal(t, "sekret", queryToken, "minted token must reach every feature query")
}

func TestHandleListPaginates(t *testing.T) {
	svc := NewService(nil)
	router := setupJobsTestRouter(svc, t.TempDir())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/dumps?limit=10", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Data  []Status `json:"data"`
			Total int      `json:"total"`
			Limit int      `json:"limit"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Data.Total)
	assert.Equal(t, 10, resp.Data.Limit)
}

func TestHandleStartRejectsMissingLayerURL(t *testing.T) {
	router := setupJobsTestRouter(NewService(nil), t.TempDir())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/dumps", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleStartAndCancel(t *testing.T) {
	block := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"maxRecordCount": 1000,
			"objectIdField":  "OBJECTID",
		})
	})
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		switch {
		case r.FormValue("returnCountOnly") == "true":
			writeJSON(t, w, map[string]interface{}{"count": 1})
		case r.FormValue("returnIdsOnly") == "true":
			writeJSON(t, w, map[string]interface{}{"objectIds": []interface{}{1.0}})
		default:
			<-block
			writeJSON(t, w, map[string]interface{}{"features": []map[string]interface{}{}})
		}
	})
	layer := httptest.NewServer(mux)
	defer layer.Close()
	defer close(block)

	svc := NewService(nil)
	router := setupJobsTestRouter(svc, t.TempDir())

	body, err := json.Marshal(map[string]interface{}{"layer_url": layer.URL})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/dumps", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var startResp struct {
		Data struct {
			JobID string `json:"job_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &startResp))
	jobID := startResp.Data.JobID
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		s, ok := svc.Get(jobID)
		return ok && s.Status == "running"
	}, 2*time.Second, 5*time.Millisecond)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("DELETE", "/api/dumps/"+jobID, nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/dumps/"+jobID, nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cancelled")

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("DELETE", "/api/dumps/"+jobID, nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code, "cancelling an already-cancelled job must conflict")
}
