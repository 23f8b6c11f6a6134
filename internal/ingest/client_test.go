package ingest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestUpload_SendsMultipartForm(t *testing.T) {
	payload := Payload{Filename: "m1_1_img.jpg", ContentType: "image/jpeg", Data: []byte("\xff\xd8jpeg-bytes")}

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "m1", r.FormValue("machine_id"))

		file, header, err := r.FormFile("image")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		assert.Equal(t, "m1_1_img.jpg", header.Filename)
		assert.Equal(t, "image/jpeg", header.Header.Get("Content-Type"))
		data, err := io.ReadAll(file)
		assert.NoError(t, err)
		assert.Equal(t, payload.Data, data)

		w.WriteHeader(http.StatusCreated)
	})

	client := New(Config{Endpoint: server.URL})

	var last Progress
	calls := 0
	err := client.Upload(context.Background(), payload, "m1", func(p Progress) {
		calls++
		assert.GreaterOrEqual(t, p.Sent, last.Sent, "progress must not go backwards")
		last = p
	})
	require.NoError(t, err)
	assert.Positive(t, calls)
	assert.Equal(t, last.Total, last.Sent)
	assert.Equal(t, 100, last.Percent())
}

func TestUpload_NonSuccessCarriesBody(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "machine not registered", http.StatusUnprocessableEntity)
	})

	client := New(Config{Endpoint: server.URL})
	err := client.Upload(context.Background(), Payload{Data: []byte("x")}, "m1", nil)
	require.Error(t, err)

	var upErr *UploadError
	require.True(t, errors.As(err, &upErr), "expected *UploadError, got %T", err)
	assert.Equal(t, http.StatusUnprocessableEntity, upErr.StatusCode)
	assert.Equal(t, "machine not registered", upErr.Body)
	assert.Contains(t, err.Error(), "machine not registered")
}

func TestUpload_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := New(Config{Endpoint: url})
	err := client.Upload(context.Background(), Payload{Data: []byte("x")}, "m1", nil)
	require.Error(t, err)

	var upErr *UploadError
	assert.False(t, errors.As(err, &upErr))
}

func TestNew_Defaults(t *testing.T) {
	client := New(Config{})
	assert.Equal(t, DefaultEndpoint, client.Endpoint())
	assert.Equal(t, DefaultResultsBaseURL, client.baseURL)
	assert.NotNil(t, client.http)
}

func setupHTTPMock(t *testing.T) *Client {
	t.Helper()
	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return New(Config{ResultsBaseURL: "http://results.test/api/", HTTPClient: httpClient})
}

func TestListMachineImages(t *testing.T) {
	client := setupHTTPMock(t)

	httpmock.RegisterResponder(http.MethodGet, "http://results.test/api/list/machine/image/m-42",
		httpmock.NewStringResponder(http.StatusOK, `[
			{"id":"1","machine_id":"m-42","filename":"a.jpg","thumbnail_filename":null,"status":"detected",
			 "detection_data":{"count":3},"created_at":"2025-03-01T10:00:00Z","updated_at":"2025-03-01T10:01:00Z"},
			{"id":"2","machine_id":"m-42","filename":"b.jpg","thumbnail_filename":"b_t.jpg","status":"pending",
			 "detection_data":null,"created_at":"2025-03-01T10:02:00Z","updated_at":"2025-03-01T10:02:00Z"}
		]`))

	records, err := client.ListMachineImages(context.Background(), "m-42")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a.jpg", records[0].Filename)
	assert.Nil(t, records[0].ThumbnailFilename)
	require.NotNil(t, records[1].ThumbnailFilename)
	assert.Equal(t, "b_t.jpg", *records[1].ThumbnailFilename)

	counts := StatusCounts(records)
	assert.Equal(t, 1, counts["detected"])
	assert.Equal(t, 1, counts["pending"])
	assert.Equal(t, 0, counts["failed"])
}

func TestSummary(t *testing.T) {
	client := setupHTTPMock(t)

	httpmock.RegisterResponder(http.MethodGet, "http://results.test/api/result",
		httpmock.NewStringResponder(http.StatusOK, `{"detected":5,"pending":2,"fail":1,"total_images":8,
			"total_particles":40,"particle_by_class":{"dust":30,"fiber":10}}`))

	summary, err := client.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, summary.TotalImages)
	assert.Equal(t, 1, summary.Fail)
	assert.Equal(t, map[string]int{"dust": 30, "fiber": 10}, summary.ParticleByClass)
}

func TestSummary_HTTPError(t *testing.T) {
	client := setupHTTPMock(t)

	httpmock.RegisterResponder(http.MethodGet, "http://results.test/api/result",
		httpmock.NewStringResponder(http.StatusBadGateway, "worker offline"))

	summary, err := client.Summary(context.Background())
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.Contains(t, err.Error(), "worker offline")
}
