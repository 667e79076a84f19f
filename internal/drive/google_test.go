package drive

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"stemsync/lib/chrono"

	"github.com/stretchr/testify/require"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

func TestBuildIndex(t *testing.T) {
	files := []*gdrive.File{
		{Id: "a", Name: "Automation", MimeType: FolderMimeType, ModifiedTime: "2023-03-01T00:00:00Z"},
		{Id: "b", Name: "ncsef", MimeType: FolderMimeType, Parents: []string{"a"}, ModifiedTime: "2023-03-02T00:00:00Z"},
		{Id: "c", Name: "plan.docx", MimeType: "application/octet-stream", Parents: []string{"b"}, ModifiedTime: "2023-03-14T10:21:00Z"},
		{Id: "d", Name: "Smith, Jane", MimeType: ShortcutMimeType, Parents: []string{"b"}, ModifiedTime: "2023-03-03T00:00:00Z"},
		{Id: "e", Name: "old.docx", Parents: []string{"b"}, Trashed: true},
		// parent is outside of what the account can see
		{Id: "f", Name: "shared", MimeType: FolderMimeType, Parents: []string{"zzz"}},
	}

	nodes, newest := buildIndex(files)
	require.Len(t, nodes, 5)
	require.Equal(t, "c", nodes["/Automation/ncsef/plan.docx"].Id)
	require.True(t, nodes["/Automation/ncsef"].Folder)
	require.True(t, nodes["/Automation/ncsef/Smith, Jane"].Shortcut)
	require.Contains(t, nodes, "/shared")
	require.NotContains(t, nodes, "/Automation/ncsef/old.docx")
	require.True(t, newest.Equal(time.Date(2023, 3, 14, 10, 21, 0, 0, time.UTC)))
}

type fakeDriveApi struct {
	server  *httptest.Server
	lists   atomic.Int32
	created []gdrive.File
}

func newFakeDriveApi(t testing.TB, files []*gdrive.File) *fakeDriveApi {
	f := &fakeDriveApi{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			f.lists.Add(1)
			require.NoError(t, json.NewEncoder(w).Encode(gdrive.FileList{Files: files}))
		case http.MethodPost:
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			var file gdrive.File
			require.NoError(t, json.Unmarshal(body, &file))
			f.created = append(f.created, file)
			file.Id = "new-" + file.Name
			file.ModifiedTime = "2023-04-01T00:00:00Z"
			require.NoError(t, json.NewEncoder(w).Encode(file))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func TestGoogleDrive(t *testing.T) {
	ctx := context.Background()
	api := newFakeDriveApi(t, []*gdrive.File{
		{Id: "a", Name: "Automation", MimeType: FolderMimeType, ModifiedTime: "2023-03-01T00:00:00Z"},
	})
	cachePath := filepath.Join(t.TempDir(), "drive_index.json")
	clock := chrono.FixedTime{Time: time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC)}

	d, err := NewGoogleDrive(ctx, GoogleOptions{
		CachePath: cachePath,
		Time:      clock,
		ClientOptions: []option.ClientOption{
			option.WithEndpoint(api.server.URL + "/"),
			option.WithoutAuthentication(),
		},
	})
	require.NoError(t, err)

	node, err := EnsureFolder(ctx, d, "/Automation/ncsef")
	require.NoError(t, err)
	require.Equal(t, "new-ncsef", node.Id)
	require.Len(t, api.created, 1)
	require.Equal(t, []string{"a"}, api.created[0].Parents)
	require.Equal(t, FolderMimeType, api.created[0].MimeType)

	all, err := d.ListAll(ctx, false)
	require.NoError(t, err)
	require.Contains(t, all, "/Automation/ncsef")
	require.EqualValues(t, 1, api.lists.Load())

	// a second client is served from the cache file
	cached, err := NewGoogleDrive(ctx, GoogleOptions{
		CachePath: cachePath,
		Time:      clock,
		ClientOptions: []option.ClientOption{
			option.WithEndpoint(api.server.URL + "/"),
			option.WithoutAuthentication(),
		},
	})
	require.NoError(t, err)
	found, ok, err := cached.Find(ctx, "/Automation/ncsef")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "new-ncsef", found.Id)
	require.EqualValues(t, 1, api.lists.Load())

	_, err = cached.ListAll(ctx, true)
	require.NoError(t, err)
	require.EqualValues(t, 2, api.lists.Load())
}
