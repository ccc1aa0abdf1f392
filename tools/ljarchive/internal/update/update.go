package update

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/inconshreveable/go-update"
	"github.com/perpetuallyhorni/ljarchive/tools/ljarchive/internal/cli"
	"github.com/pkg/errors"
)

const (
	repoName         = "ljarchive"
	latestReleaseURL = "https://api.github.com/repos/perpetuallyhorni/ljarchive/releases/latest"
)

// githubRelease represents the structure of a GitHub release API response.
type githubRelease struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name        string `json:"name"`
		DownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// version is a parsed "vMAJOR.MINOR[.PATCH]" tag.
type version struct {
	Major, Minor, Patch int
}

func parseVersion(vStr string) (version, error) {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(vStr), "v"), ".")
	if len(parts) < 2 || len(parts) > 3 {
		return version{}, errors.Errorf("invalid version format: %s", vStr)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return version{}, errors.Errorf("invalid version component %q in %s", p, vStr)
		}
		nums[i] = n
	}
	return version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func (v version) lessThan(other version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor < other.Minor
	}
	return v.Patch < other.Patch
}

// Updater checks GitHub releases and replaces the running binary.
type Updater struct {
	ReleaseURL string
	HTTPClient *http.Client
	GOOS       string
	GOARCH     string
}

// New returns an Updater for the published releases of this platform.
func New() *Updater {
	return &Updater{
		ReleaseURL: latestReleaseURL,
		HTTPClient: http.DefaultClient,
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
	}
}

func (u *Updater) latestRelease(ctx context.Context) (*githubRelease, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.ReleaseURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	resp, err := u.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch latest release info")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("bad status from GitHub API: %s", resp.Status)
	}
	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, errors.Wrap(err, "failed to decode release info")
	}
	return &release, nil
}

// CheckForUpdate returns the latest release tag when it is newer than currentVersion, else "".
func (u *Updater) CheckForUpdate(ctx context.Context, currentVersion string) (string, error) {
	if currentVersion == "" || currentVersion == "dev" {
		return "", nil
	}
	release, err := u.latestRelease(ctx)
	if err != nil {
		return "", err
	}
	newer, err := isNewer(currentVersion, release.TagName)
	if err != nil || !newer {
		return "", err
	}
	return release.TagName, nil
}

func isNewer(current, latest string) (bool, error) {
	cur, err := parseVersion(current)
	if err != nil {
		return false, errors.Wrapf(err, "failed to parse current version '%s'", current)
	}
	lat, err := parseVersion(latest)
	if err != nil {
		return false, errors.Wrapf(err, "failed to parse latest version tag '%s'", latest)
	}
	return cur.lessThan(lat), nil
}

// assetName is the archive name goreleaser gives this platform.
func (u *Updater) assetName() string {
	arch := u.GOARCH
	if arch == "amd64" {
		arch = "x86_64"
	}
	ext := "tar.gz"
	if u.GOOS == "windows" {
		ext = "zip"
	}
	return fmt.Sprintf("%s_%s_%s.%s", repoName, u.GOOS, arch, ext)
}

func (u *Updater) binaryName() string {
	if u.GOOS == "windows" {
		return repoName + ".exe"
	}
	return repoName
}

// extractBinary returns the executable stored in a .zip or .tar.gz archive.
func extractBinary(archive []byte, archiveName, binaryName string) ([]byte, error) {
	if strings.HasSuffix(archiveName, ".zip") {
		r, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
		if err != nil {
			return nil, errors.Wrap(err, "failed to create zip reader")
		}
		for _, f := range r.File {
			if f.FileInfo().IsDir() || filepath.Base(f.Name) != binaryName {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, errors.Wrap(err, "failed to open file in zip")
			}
			defer rc.Close()
			data, err := io.ReadAll(rc)
			if err != nil {
				return nil, errors.Wrap(err, "failed to read executable from zip")
			}
			return data, nil
		}
		return nil, errors.Errorf("executable '%s' not found in archive", binaryName)
	}

	gzr, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gzip reader")
	}
	defer gzr.Close()
	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "tar reading error")
		}
		if header.Typeflag == tar.TypeReg && filepath.Base(header.Name) == binaryName {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, errors.Wrap(err, "failed to read executable from tarball")
			}
			return data, nil
		}
	}
	return nil, errors.Errorf("executable '%s' not found in archive", binaryName)
}

// Apply replaces the running binary with the latest release when it is newer.
func (u *Updater) Apply(ctx context.Context, console *cli.Console, currentVersion string) error {
	exe, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "could not locate executable path")
	}
	if strings.Contains(exe, "go-build") {
		console.Error("Update command cannot be used with `go run`.")
		console.Info("Please build or install the binary first, then run the update on the compiled executable.")
		return nil
	}
	if currentVersion == "" || currentVersion == "dev" {
		console.Warn("Cannot update 'dev' version.")
		return nil
	}

	console.Info("Checking for latest version...")
	release, err := u.latestRelease(ctx)
	if err != nil {
		return err
	}
	newer, err := isNewer(currentVersion, release.TagName)
	if err != nil {
		return err
	}
	if !newer {
		console.Success("You are already using the latest version of ljarchive (%s).", currentVersion)
		return nil
	}
	console.Info("Updating from %s to %s...", currentVersion, release.TagName)

	name := u.assetName()
	var assetURL string
	for _, asset := range release.Assets {
		if asset.Name == name {
			assetURL = asset.DownloadURL
			break
		}
	}
	if assetURL == "" {
		return errors.Errorf("could not find update asset '%s' for this platform", name)
	}

	console.Info("Downloading: %s", name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return err
	}
	resp, err := u.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to download asset")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("bad status downloading asset: %s", resp.Status)
	}
	archive, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read archive body")
	}
	bin, err := extractBinary(archive, name, u.binaryName())
	if err != nil {
		return errors.Wrap(err, "failed to extract binary")
	}

	console.Info("Applying update...")
	if err := update.Apply(bytes.NewReader(bin), update.Options{}); err != nil {
		return errors.Wrap(err, "update apply failed")
	}
	console.Success("Successfully updated to version %s", release.TagName)
	return nil
}
