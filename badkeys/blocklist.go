package badkeys

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sort"

	"github.com/runZeroInc/excrypto/x/crypto/ssh"
)

const BlockLength = 16
const BlockHashPrefix = 15

// RepoTypeLocal marks entries loaded from a local revoked keys file
const RepoTypeLocal = "local"

var ErrNotFound = errors.New("key not found")

type Meta struct {
	BKFormat        int    `json:"bkformat,omitempty"`
	Date            string `json:"date,omitempty"`
	BlocklistURL    string `json:"blocklist_url,omitempty"`
	BlocklistSHA256 string `json:"blocklist_sha256,omitempty"`
	LookupURL       string `json:"lookup_url,omitempty"`
	LookupSHA256    string `json:"lookup_sha256,omitempty"`
	Blocklists      []Repo `json:"blocklists,omitempty"`
}

type Repo struct {
	ID   int    `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
	Repo string `json:"repo,omitempty"`
	Path string `json:"path,omitempty"`
}

type Repos map[int]Repo

// Blocklist holds sorted 16-byte blocks: a 15-byte key hash prefix followed
// by the repo ID. LookupMap is keyed by the first 8 bytes of each block.
type Blocklist struct {
	Meta          *Meta
	Blocks        []byte
	Repos         Repos
	LookupMap     map[uint64][]int
	LookupStrings []string
}

func NewBlocklist() *Blocklist {
	return &Blocklist{
		LookupMap: make(map[uint64][]int),
		Repos:     make(Repos),
	}
}

func (tset *Blocklist) FindBlock(k []byte) ([]byte, error) {
	i := tset.search(k)
	if i < len(tset.Blocks) && bytes.Equal(tset.Blocks[i:i+BlockHashPrefix], k) {
		return tset.Blocks[i : i+BlockLength], nil
	}
	return nil, fmt.Errorf("%w (%d)", ErrNotFound, i)
}

// search returns the byte offset of the first block not less than k
func (tset *Blocklist) search(k []byte) int {
	return sort.Search(len(tset.Blocks)/BlockLength, func(i int) bool {
		return bytes.Compare(tset.Blocks[i*BlockLength:(i*BlockLength)+BlockHashPrefix], k) >= 0
	}) * BlockLength
}

func (tset *Blocklist) LookupPrefix(sum []byte) (*Result, error) {
	if len(sum) < BlockHashPrefix {
		return nil, fmt.Errorf("prefix too short: %d", len(sum))
	}
	block, err := tset.FindBlock(sum[0:BlockHashPrefix])
	if err != nil {
		return nil, err
	}
	repo, ok := tset.Repos[int(block[BlockHashPrefix])]
	if !ok {
		return nil, fmt.Errorf("repo %d is missing", block[BlockHashPrefix])
	}
	res := &Result{
		Repo:     repo.Repo,
		RepoID:   repo.ID,
		RepoType: repo.Type,
		RepoPath: repo.Path,
		RepoName: repo.Name,
		Hash:     hex.EncodeToString(block[:BlockHashPrefix]),
	}
	info, ok := tset.LookupMap[binary.BigEndian.Uint64(block[:8])]
	if !ok {
		// Entries without a published path are still blocked
		res.Private = repo.Type != RepoTypeLocal
		return res, nil
	}
	parts := make([]string, len(info))
	for i, lk := range info {
		parts[i] = tset.LookupStrings[lk]
	}
	res.KeyPath = path.Join(parts...)
	return res, nil
}

// Check reports the blocklist entry for pub, or nil when pub is not listed
func (tset *Blocklist) Check(pub ssh.PublicKey) (*Result, error) {
	prefix, err := PrefixFromPublicKey(pub)
	if err != nil {
		return nil, err
	}
	res, err := tset.LookupPrefix(prefix)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return res, err
}

// Add inserts a key prefix for repo, keeping Blocks sorted. keyPath is
// recorded in the lookup tables when it is not empty.
func (tset *Blocklist) Add(prefix []byte, repo Repo, keyPath string) error {
	if len(prefix) < BlockHashPrefix {
		return fmt.Errorf("prefix too short: %d", len(prefix))
	}
	if repo.ID < 0 || repo.ID > 255 {
		return fmt.Errorf("repo id %d out of range", repo.ID)
	}
	tset.Repos[repo.ID] = repo

	block := make([]byte, BlockLength)
	copy(block, prefix[:BlockHashPrefix])
	block[BlockHashPrefix] = byte(repo.ID)

	i := tset.search(block[:BlockHashPrefix])
	if i < len(tset.Blocks) && bytes.Equal(tset.Blocks[i:i+BlockHashPrefix], block[:BlockHashPrefix]) {
		return nil
	}
	blocks := make([]byte, 0, len(tset.Blocks)+BlockLength)
	blocks = append(blocks, tset.Blocks[:i]...)
	blocks = append(blocks, block...)
	blocks = append(blocks, tset.Blocks[i:]...)
	tset.Blocks = blocks

	if keyPath != "" {
		tset.LookupStrings = append(tset.LookupStrings, keyPath)
		tset.LookupMap[binary.BigEndian.Uint64(block[:8])] = []int{len(tset.LookupStrings) - 1}
	}
	return nil
}
