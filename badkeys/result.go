package badkeys

import (
	"path"
	"strconv"
)

// Result identifies the blocklist entry a key matched
type Result struct {
	Repo     string `json:"repo,omitempty"`
	RepoID   int    `json:"repoId,omitempty"`
	RepoType string `json:"repoType,omitempty"`
	RepoPath string `json:"repoPath,omitempty"`
	RepoName string `json:"repoName,omitempty"`
	KeyPath  string `json:"keyPath,omitempty"`
	Private  bool   `json:"private,omitempty"`
	Hash     string `json:"hash,omitempty"`
}

func (r *Result) GetID() string {
	if r.Private {
		return "badkeys-private-" + strconv.Itoa(r.RepoID) + "-" + r.Hash
	}
	return "badkeys-" + r.RepoType + "-" + r.Repo + "-" + r.RepoPath + "-" + r.Hash
}

func (r *Result) GetURL() string {
	switch {
	case r.RepoType == RepoTypeLocal:
		return "file://" + r.Repo
	case r.Private:
		return "unpublished://" + r.GetID()
	case r.RepoType != "github":
		return "https://" + r.RepoType + "/" + path.Join(r.Repo, "blob", r.RepoPath, r.KeyPath)
	}
	return "https://github.com/" + path.Join(r.Repo, "blob", r.RepoPath, r.KeyPath)
}
