package models

import "time"

// Tier identifies a subscription plan
type Tier string

const (
	TierSilver  Tier = "SILVER"
	TierGold    Tier = "GOLD"
	TierDiamond Tier = "DIAMOND"
)

// Valid reports whether t is one of the known tiers
func (t Tier) Valid() bool {
	switch t {
	case TierSilver, TierGold, TierDiamond:
		return true
	}
	return false
}

// Package is a subscription plan bundling quota limits
type Package struct {
	ID               string     `json:"id"`
	Name             Tier       `json:"name"`
	Price            float64    `json:"price"`
	MaxFolders       int        `json:"maxFolders"`
	MaxNestingLevel  int        `json:"maxNestingLevel"`
	AllowedFileTypes []FileType `json:"allowedFileTypes"`
	MaxFileSizeMB    float64    `json:"maxFileSizeMB"`
	TotalFileLimit   int        `json:"totalFileLimit"`
	FilesPerFolder   int        `json:"filesPerFolder"`
	IsActive         bool       `json:"isActive"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Allows reports whether files of type ft may be uploaded on this package
func (p *Package) Allows(ft FileType) bool {
	for _, allowed := range p.AllowedFileTypes {
		if allowed == ft {
			return true
		}
	}
	return false
}

// Subscription links a user to a package. History rows are kept after deactivation.
type Subscription struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	PackageID string     `json:"packageId"`
	IsActive  bool       `json:"isActive"`
	StartDate time.Time  `json:"startDate"`
	EndDate   *time.Time `json:"endDate"`
	Package   *Package   `json:"package,omitempty"`
}

// Folder is a node in a user's folder tree. Depth is fixed at creation.
type Folder struct {
	ID        string        `json:"id"`
	UserID    string        `json:"userId"`
	ParentID  *string       `json:"parentId"`
	Name      string        `json:"name"`
	Depth     int           `json:"depth"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Counts    *FolderCounts `json:"counts,omitempty"`
}

// IsRoot reports whether the folder has no parent
func (f *Folder) IsRoot() bool {
	return f.ParentID == nil
}

// FolderCounts holds the number of direct children of a folder
type FolderCounts struct {
	Children int `json:"children"`
	Files    int `json:"files"`
}

// FolderRef is the display context of a file's parent folder
type FolderRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// File represents file metadata; the bytes live in the byte store under StorageKey
type File struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	FolderID     string     `json:"folderId"`
	Name         string     `json:"name"`
	OriginalName string     `json:"originalName"`
	FileType     FileType   `json:"fileType"`
	MIMEType     string     `json:"mimeType"`
	SizeMB       float64    `json:"sizeMB"`
	StorageKey   string     `json:"storageKey"`
	StorageURL   string     `json:"storageUrl"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	Folder       *FolderRef `json:"folder,omitempty"`
}

// FolderContents is the shallow listing of one folder
type FolderContents struct {
	Folder     *Folder   `json:"folder"`
	SubFolders []*Folder `json:"subFolders"`
	Files      []*File   `json:"files"`
}

// FolderDeletion is returned after a folder subtree has been removed
type FolderDeletion struct {
	Deleted  bool   `json:"deleted"`
	FolderID string `json:"folderId"`
}

// FileDeletion is returned after a file has been removed
type FileDeletion struct {
	Deleted bool   `json:"deleted"`
	FileID  string `json:"fileId"`
}

// Download describes where to read a file's bytes from
type Download struct {
	StorageKey   string `json:"storageKey"`
	OriginalName string `json:"originalName"`
	MIMEType     string `json:"mimeType"`
}

// SubscriptionOverview is the active subscription plus the full history
type SubscriptionOverview struct {
	Active  *Subscription   `json:"active"`
	History []*Subscription `json:"history"`
}
