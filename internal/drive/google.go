package drive

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"stemsync/lib/chrono"
	"stemsync/lib/jsoncache"
	"stemsync/lib/telemetry"

	"github.com/spf13/afero"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const (
	FolderMimeType   = "application/vnd.google-apps.folder"
	ShortcutMimeType = "application/vnd.google-apps.shortcut"

	// CheckedTTL is how long ListAll trusts the index before the drive is
	// listed again.
	CheckedTTL = 5 * time.Minute
	// UpdateTTL is how long lookups trust the index. Everything created
	// through GoogleDrive is written to the index as it happens.
	UpdateTTL = 6 * time.Hour

	fileFields = "id, name, mimeType, parents, modifiedTime, trashed"
)

const (
	report_drive_list   = "drive.list-all"
	report_drive_create = "drive.create"
)

type index struct {
	Nodes       map[string]Node `json:"nodes"`
	LastChecked time.Time       `json:"last_checked"`
	LastUpdated time.Time       `json:"last_updated"`
}

// GoogleDrive is a Drive backed by the Google Drive v3 api. Paths are
// resolved through an index of every file, it is cached on disk between
// runs.
type GoogleDrive struct {
	service   *gdrive.Service
	source    afero.Fs
	cache     jsoncache.Store
	cachePath string
	clock     chrono.TimeAPI
	tel       telemetry.API

	mutex sync.Mutex
	index index
}

type GoogleOptions struct {
	CredentialsFile string
	// CachePath is where the path index is kept between runs.
	CachePath string
	Source    afero.Fs
	Tel       telemetry.API
	Time      chrono.TimeAPI
	// ClientOptions are appended to the credentials option, tests point the
	// client at a fake endpoint with them.
	ClientOptions []option.ClientOption
}

func NewGoogleDrive(ctx context.Context, opts GoogleOptions) (*GoogleDrive, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts,
			option.WithCredentialsFile(opts.CredentialsFile),
			option.WithScopes(gdrive.DriveScope),
		)
	}
	clientOpts = append(clientOpts, opts.ClientOptions...)

	service, err := gdrive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("drive: create service: %w", err)
	}
	if opts.Tel == nil {
		opts.Tel = telemetry.Discard{}
	}
	if opts.Time == nil {
		opts.Time = chrono.StandardTime{}
	}
	if opts.Source == nil {
		opts.Source = afero.NewOsFs()
	}
	return &GoogleDrive{
		service:   service,
		source:    opts.Source,
		cache:     jsoncache.NewStore(opts.Tel, opts.Time),
		cachePath: opts.CachePath,
		clock:     opts.Time,
		tel:       telemetry.NewScopedAPI("drive", opts.Tel),
		index:     index{Nodes: map[string]Node{}},
	}, nil
}

func toNode(file *gdrive.File, p string) Node {
	modified, _ := time.Parse(time.RFC3339, file.ModifiedTime)
	return Node{
		Id:       file.Id,
		Path:     p,
		Folder:   file.MimeType == FolderMimeType,
		Shortcut: file.MimeType == ShortcutMimeType,
		Modified: modified,
	}
}

// buildIndex resolves the path of every file through its parents, files
// whose parent is not listed are roots.
func buildIndex(files []*gdrive.File) (map[string]Node, time.Time) {
	byId := make(map[string]*gdrive.File, len(files))
	for _, f := range files {
		if f.Trashed {
			continue
		}
		byId[f.Id] = f
	}

	paths := map[string]string{}
	var resolve func(id string, depth int) string
	resolve = func(id string, depth int) string {
		if p, ok := paths[id]; ok {
			return p
		}
		f := byId[id]
		parent := "/"
		if len(f.Parents) > 0 && depth < 64 {
			if _, ok := byId[f.Parents[0]]; ok {
				parent = resolve(f.Parents[0], depth+1)
			}
		}
		p := Clean(parent + "/" + f.Name)
		paths[id] = p
		return p
	}

	ids := make([]string, 0, len(byId))
	for id := range byId {
		ids = append(ids, id)
	}
	// duplicate names resolve to the same id on every run
	sort.Strings(ids)

	nodes := map[string]Node{}
	var newest time.Time
	for _, id := range ids {
		node := toNode(byId[id], resolve(id, 0))
		if _, exists := nodes[node.Path]; !exists {
			nodes[node.Path] = node
		}
		if node.Modified.After(newest) {
			newest = node.Modified
		}
	}
	return nodes, newest
}

func (d *GoogleDrive) writeCache() {
	if d.cachePath == "" {
		return
	}
	if err := d.cache.Write(d.cachePath, d.index); err != nil {
		d.tel.ReportWarning(report_drive_list, err)
	}
}

func (d *GoogleDrive) refresh(ctx context.Context) error {
	var files []*gdrive.File
	err := d.service.Files.List().
		Q("trashed=false").
		PageSize(1000).
		Fields("nextPageToken", "files("+fileFields+")").
		Pages(ctx, func(page *gdrive.FileList) error {
			files = append(files, page.Files...)
			return nil
		})
	if err != nil {
		d.tel.ReportBroken(report_drive_list, err)
		return err
	}

	nodes, newest := buildIndex(files)
	d.index = index{
		Nodes:       nodes,
		LastChecked: d.clock.Now(),
		LastUpdated: newest,
	}
	d.tel.ReportCount(report_drive_list, int64(len(nodes)))
	d.writeCache()
	return nil
}

func (d *GoogleDrive) load(ctx context.Context, forceRefresh bool, maxAge time.Duration) error {
	if !forceRefresh && len(d.index.Nodes) == 0 && d.cachePath != "" {
		var cached index
		if d.cache.ReadInto(d.cachePath, UpdateTTL, &cached) && cached.Nodes != nil {
			d.index = cached
		}
	}
	if forceRefresh || len(d.index.Nodes) == 0 || d.clock.Now().Sub(d.index.LastChecked) > maxAge {
		return d.refresh(ctx)
	}
	return nil
}

func (d *GoogleDrive) ListAll(ctx context.Context, forceRefresh bool) (map[string]Node, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.load(ctx, forceRefresh, CheckedTTL); err != nil {
		return nil, err
	}
	out := make(map[string]Node, len(d.index.Nodes))
	for k, v := range d.index.Nodes {
		out[k] = v
	}
	return out, nil
}

func (d *GoogleDrive) find(ctx context.Context, p string) (Node, bool, error) {
	if err := d.load(ctx, false, UpdateTTL); err != nil {
		return Node{}, false, err
	}
	node, ok := d.index.Nodes[Clean(p)]
	return node, ok, nil
}

func (d *GoogleDrive) Find(ctx context.Context, p string) (Node, bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.find(ctx, p)
}

func (d *GoogleDrive) parent(ctx context.Context, p string) (Node, string, error) {
	parentPath, name := Split(p)
	parent, ok, err := d.find(ctx, parentPath)
	if err != nil {
		return Node{}, "", err
	}
	if !ok {
		return Node{}, "", fmt.Errorf("%w: %s", ErrNotFound, parentPath)
	}
	if !parent.Folder {
		return Node{}, "", fmt.Errorf("%w: %s", ErrNotFolder, parentPath)
	}
	return parent, name, nil
}

func (d *GoogleDrive) remember(file *gdrive.File, p string) Node {
	node := toNode(file, Clean(p))
	d.index.Nodes[node.Path] = node
	if node.Modified.After(d.index.LastUpdated) {
		d.index.LastUpdated = node.Modified
	}
	d.writeCache()
	return node
}

func (d *GoogleDrive) CreateFolder(ctx context.Context, p string) (Node, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	existing, ok, err := d.find(ctx, p)
	if err != nil {
		return Node{}, err
	}
	if ok {
		if !existing.Folder {
			return Node{}, fmt.Errorf("%w: %s", ErrNotFolder, p)
		}
		d.tel.ReportDebug("folder already exists", p)
		return existing, nil
	}

	if Clean(p) == "/" {
		return Node{}, fmt.Errorf("%w: cannot create the root", ErrNotFolder)
	}
	parentPath, name := Split(p)
	file := &gdrive.File{Name: name, MimeType: FolderMimeType}
	if parentPath != "/" {
		parent, _, err := d.parent(ctx, p)
		if err != nil {
			return Node{}, err
		}
		file.Parents = []string{parent.Id}
	}

	created, err := d.service.Files.Create(file).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		d.tel.ReportBroken(report_drive_create, err, p)
		return Node{}, err
	}
	d.tel.ReportDebug("created folder", p, created.Id)
	return d.remember(created, p), nil
}

// CreateFile uploads the local file and sets the remote modification time
// to the local one.
func (d *GoogleDrive) CreateFile(ctx context.Context, localPath, remotePath string) (Node, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	src, err := d.source.Open(localPath)
	if err != nil {
		return Node{}, err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return Node{}, err
	}
	modified := info.ModTime().UTC().Format(time.RFC3339)

	existing, ok, err := d.find(ctx, remotePath)
	if err != nil {
		return Node{}, err
	}
	var file *gdrive.File
	if ok {
		if existing.Folder {
			return Node{}, fmt.Errorf("drive: %s is a folder", remotePath)
		}
		file, err = d.service.Files.Update(existing.Id, &gdrive.File{ModifiedTime: modified}).
			Media(src).
			Fields(fileFields).
			Context(ctx).
			Do()
	} else {
		parent, name, perr := d.parent(ctx, remotePath)
		if perr != nil {
			return Node{}, perr
		}
		file, err = d.service.Files.Create(&gdrive.File{
			Name:         name,
			Parents:      []string{parent.Id},
			ModifiedTime: modified,
		}).
			Media(src).
			Fields(fileFields).
			Context(ctx).
			Do()
	}
	if err != nil {
		d.tel.ReportBroken(report_drive_create, err, remotePath)
		return Node{}, err
	}
	return d.remember(file, remotePath), nil
}

func (d *GoogleDrive) CreateShortcut(ctx context.Context, targetPath, containerPath, title string) (Node, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	p := Clean(containerPath + "/" + title)
	if existing, ok, err := d.find(ctx, p); err != nil || ok {
		return existing, err
	}
	target, ok, err := d.find(ctx, targetPath)
	if err != nil {
		return Node{}, err
	}
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrNotFound, targetPath)
	}
	container, _, err := d.parent(ctx, p)
	if err != nil {
		return Node{}, err
	}

	created, err := d.service.Files.Create(&gdrive.File{
		Name:            title,
		MimeType:        ShortcutMimeType,
		Parents:         []string{container.Id},
		ShortcutDetails: &gdrive.FileShortcutDetails{TargetId: target.Id},
	}).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		d.tel.ReportBroken(report_drive_create, err, p)
		return Node{}, err
	}
	return d.remember(created, p), nil
}
