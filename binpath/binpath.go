// Package binpath resolves the on-disk path of a backend binary, searching
// the same candidate locations a user's shell would (npm/volta/nvm/system
// dirs) rather than trusting a bare PATH lookup, since backend processes are
// frequently installed into per-user package-manager directories that a
// supervising service's PATH doesn't include. Grounded in the original
// agent/runtime.rs.
package binpath

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

func detectHomeDir() string {
	if home := os.Getenv("HOME"); strings.TrimSpace(home) != "" {
		return home
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return ""
}

// CandidateBinDirs returns the ordered, deduplicated list of directories to
// search for a backend binary: user package-manager dirs first, then
// per-user node-version dirs (newest first), then system dirs.
func CandidateBinDirs() []string {
	var dirs []string

	home := detectHomeDir()
	if home != "" {
		dirs = append(dirs,
			filepath.Join(home, ".npm-global", "bin"),
			filepath.Join(home, ".opencode", "bin"),
			filepath.Join(home, ".local", "bin"),
			filepath.Join(home, ".volta", "bin"),
		)
	}

	if nvmBin := os.Getenv("NVM_BIN"); nvmBin != "" {
		dirs = append(dirs, nvmBin)
	}

	if home != "" {
		nvmDir := os.Getenv("NVM_DIR")
		if nvmDir == "" {
			nvmDir = filepath.Join(home, ".nvm")
		}
		nodeVersionsDir := filepath.Join(nvmDir, "versions", "node")
		if entries, err := os.ReadDir(nodeVersionsDir); err == nil {
			var versionBins []string
			for _, entry := range entries {
				p := filepath.Join(nodeVersionsDir, entry.Name(), "bin")
				if info, err := os.Stat(p); err == nil && info.IsDir() {
					versionBins = append(versionBins, p)
				}
			}
			version := func(binDir string) (v [3]int) {
				fmt.Sscanf(filepath.Base(filepath.Dir(binDir)), "v%d.%d.%d", &v[0], &v[1], &v[2])
				return v
			}
			sort.SliceStable(versionBins, func(i, j int) bool {
				vi, vj := version(versionBins[i]), version(versionBins[j])
				for k := range vi {
					if vi[k] != vj[k] {
						return vi[k] > vj[k]
					}
				}
				return versionBins[i] > versionBins[j]
			})
			dirs = append(dirs, versionBins...)
		}
	}

	dirs = append(dirs, "/usr/local/bin", "/usr/bin", "/snap/bin")

	seen := make(map[string]bool, len(dirs))
	deduped := dirs[:0:0]
	for _, d := range dirs {
		if !seen[d] {
			seen[d] = true
			deduped = append(deduped, d)
		}
	}
	return deduped
}

// IsCandidateRunnable reports whether path is a regular, executable file
// whose shebang interpreter (if any) actually exists — npm shims left behind
// after an interpreter is uninstalled are a common ENOENT cause this guards
// against.
func IsCandidateRunnable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if info.Mode().Perm()&0o111 == 0 {
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 256)
	scanner.Buffer(buf, 256)
	if !scanner.Scan() {
		return true
	}
	line := scanner.Text()

	shebang, ok := strings.CutPrefix(line, "#!")
	if !ok {
		return true
	}
	fields := strings.Fields(shebang)
	if len(fields) == 0 {
		return true
	}
	interpreter := strings.TrimSpace(fields[0])
	if strings.HasPrefix(interpreter, "/") {
		if _, err := os.Stat(interpreter); err != nil {
			return false
		}
	}
	return true
}

// Resolve finds bin's on-disk path: bin itself if it already names an
// existing file, else the first runnable match across CandidateBinDirs,
// else bin unchanged (letting the caller's exec attempt surface the real
// ENOENT).
func Resolve(bin string) string {
	if _, err := os.Stat(bin); err == nil {
		return bin
	}

	for _, dir := range CandidateBinDirs() {
		candidate := filepath.Join(dir, bin)
		if IsCandidateRunnable(candidate) {
			return candidate
		}
	}

	return bin
}

// ResolveWithEnv prefers the path named by the envKey environment variable
// when it is set and runnable, else falls back to Resolve(bin). Backend
// configs use this so an operator's explicit override always wins.
func ResolveWithEnv(envKey, bin string) string {
	if v := os.Getenv(envKey); v != "" && IsCandidateRunnable(v) {
		return v
	}
	return Resolve(bin)
}

// AugmentedPath builds a PATH value with every CandidateBinDirs entry
// prepended to currentPath, for spawning a backend child process that may
// itself shell out to further tools.
func AugmentedPath(currentPath string) string {
	all := append(CandidateBinDirs(), currentPath)
	return strings.Join(all, string(os.PathListSeparator))
}
