package restyutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

type memoryOutput struct {
	mutex    sync.Mutex
	messages map[string]string
}

func (m *memoryOutput) Write(name, contents string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.messages[name] = contents
}

func newServer(t *testing.T) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>ok</html>"))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestInstrumentClient(t *testing.T) {
	server := newServer(t)
	out := &memoryOutput{messages: map[string]string{}}
	client := resty.New().SetBaseURL(server.URL)
	InstrumentClient(client, out)

	_, err := client.R().
		SetFormData(map[string]string{"username": "someone", "password": "hunter2"}).
		Post("/admin/authenticate")
	require.NoError(t, err)
	_, err = client.R().Get("/")
	require.NoError(t, err)

	require.Len(t, out.messages, 2)
	message, ok := out.messages["0001-post-admin_authenticate.txt"]
	require.True(t, ok, "dumps: %v", out.messages)
	require.True(t, strings.HasPrefix(message, "---- REQUEST ----"))
	require.Contains(t, message, "POST "+server.URL+"/admin/authenticate")
	require.Contains(t, message, "username=someone")
	require.NotContains(t, message, "hunter2")
	require.Contains(t, message, "<html>ok</html>")

	require.Contains(t, out.messages, "0002-get-root.txt")
}

func TestFilesystemOutput(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dump/stale.txt", []byte("old"), 0o600))

	out, err := NewFilesystemOutputFs(fs, "/dump")
	require.NoError(t, err)
	stale, err := afero.Exists(fs, "/dump/stale.txt")
	require.NoError(t, err)
	require.False(t, stale)

	client := resty.New().SetBaseURL(newServer(t).URL)
	InstrumentClient(client, out)
	_, err = client.R().Get("/fairadmin/student")
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, "/dump/0001-get-fairadmin_student.txt")
	require.NoError(t, err)
	require.Contains(t, string(data), "GET ")
}

func TestInstrumentClientNilOutput(t *testing.T) {
	client := resty.New()
	InstrumentClient(client, nil)
}
