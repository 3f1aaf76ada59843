package validation

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/go-playground/validator/v10"

	"github.com/veranemoloko/tui-downloader/internal/domain"
	errpkg "github.com/veranemoloko/tui-downloader/internal/errors"
)

// Form is the syntactic shape of a download source.
type Form int

const (
	FormURI Form = iota
	FormMagnet
	FormTorrentFile
	FormMetalinkFile
)

func (f Form) String() string {
	switch f {
	case FormURI:
		return "uri"
	case FormMagnet:
		return "magnet"
	case FormTorrentFile:
		return "torrent file"
	case FormMetalinkFile:
		return "metalink file"
	}
	return "unknown"
}

// Source is a classified download input.
type Source struct {
	Raw  string
	Form Form
	Kind domain.Kind
	Name string
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("download_uri", validateDownloadURI)
	_ = validate.RegisterValidation("magnet_uri", validateMagnetURI)
	_ = validate.RegisterValidation("torrent_path", hasExtension(".torrent"))
	_ = validate.RegisterValidation("metalink_path", hasExtension(".metalink", ".meta4"))
}

var downloadSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"ftp":   true,
	"sftp":  true,
}

// Classify determines which add call a source needs. Anything that is not
// a transfer URL, a magnet URI or a torrent/metalink path is rejected.
func Classify(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)

	switch {
	case validate.Var(raw, "required,download_uri") == nil:
		return Source{Raw: raw, Form: FormURI, Kind: uriKind(raw), Name: nameFromURL(raw)}, nil
	case validate.Var(raw, "required,magnet_uri") == nil:
		m, _ := metainfo.ParseMagnetUri(raw)
		name := m.DisplayName
		if name == "" {
			name = m.InfoHash.HexString()
		}
		return Source{Raw: raw, Form: FormMagnet, Kind: domain.KindTorrent, Name: name}, nil
	case validate.Var(raw, "required,torrent_path") == nil:
		return Source{Raw: raw, Form: FormTorrentFile, Kind: domain.KindTorrent, Name: filepath.Base(raw)}, nil
	case validate.Var(raw, "required,metalink_path") == nil:
		return Source{Raw: raw, Form: FormMetalinkFile, Kind: domain.KindMetalink, Name: filepath.Base(raw)}, nil
	}

	return Source{}, fmt.Errorf("%w: %q is not a URL, magnet link, or .torrent/.metalink file", errpkg.ErrInvalidSource, raw)
}

// InspectTorrent checks that data is a bencoded torrent and returns its name.
func InspectTorrent(data []byte) (string, error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: not a torrent file: %v", errpkg.ErrInvalidSource, err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return "", fmt.Errorf("%w: torrent info is unreadable: %v", errpkg.ErrInvalidSource, err)
	}
	return info.Name, nil
}

// Namespaces of Metalink 4 (RFC 5854) and Metalink 3.
const (
	metalinkNamespace   = "urn:ietf:params:xml:ns:metalink"
	metalinkV3Namespace = "http://www.metalinker.org/"
)

// InspectMetalink checks that data is a well-formed XML document whose root
// is a metalink element in either known namespace.
func InspectMetalink(data []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return fmt.Errorf("%w: metalink document has no root element", errpkg.ErrInvalidSource)
		}
		if err != nil {
			return fmt.Errorf("%w: metalink is not valid XML: %v", errpkg.ErrInvalidSource, err)
		}

		root, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if root.Name.Local != "metalink" ||
			(root.Name.Space != metalinkNamespace && root.Name.Space != metalinkV3Namespace) {
			return fmt.Errorf("%w: root element {%s}%s is not a metalink",
				errpkg.ErrInvalidSource, root.Name.Space, root.Name.Local)
		}
		if err := dec.Skip(); err != nil {
			return fmt.Errorf("%w: metalink is not valid XML: %v", errpkg.ErrInvalidSource, err)
		}
		return nil
	}
}

func validateDownloadURI(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	return downloadSchemes[strings.ToLower(u.Scheme)] && u.Host != ""
}

func validateMagnetURI(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if !strings.HasPrefix(strings.ToLower(s), "magnet:?") {
		return false
	}
	_, err := metainfo.ParseMagnetUri(s)
	return err == nil
}

func hasExtension(exts ...string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if strings.Contains(s, "://") {
			return false
		}
		ext := strings.ToLower(filepath.Ext(s))
		for _, e := range exts {
			if ext == e {
				return len(s) > len(e)
			}
		}
		return false
	}
}

func uriKind(raw string) domain.Kind {
	lower := strings.ToLower(raw)
	switch {
	case strings.HasSuffix(lower, ".torrent"):
		return domain.KindTorrent
	case strings.HasSuffix(lower, ".metalink"), strings.HasSuffix(lower, ".meta4"):
		return domain.KindMetalink
	}
	return domain.KindHTTP
}

func nameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return u.Host
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		return unescaped
	}
	return base
}
