package interfaces

import (
	"fmt"
	"strings"
)

// DataCategory identifies the kind of object being stored. It selects the
// storage folder and the overwrite policy applied when the object already
// exists in an offer.
type DataCategory string

const (
	CategoryUnit             DataCategory = "UNIT"
	CategoryObjectGroup      DataCategory = "OBJECTGROUP"
	CategoryObject           DataCategory = "OBJECT"
	CategoryLogbook          DataCategory = "LOGBOOK"
	CategoryReport           DataCategory = "REPORT"
	CategoryManifest         DataCategory = "MANIFEST"
	CategoryProfile          DataCategory = "PROFILE"
	CategoryStorageLog       DataCategory = "STORAGELOG"
	CategoryRules            DataCategory = "RULES"
	CategoryUnitGraph        DataCategory = "UNIT_GRAPH"
	CategoryObjectGroupGraph DataCategory = "OBJECTGROUP_GRAPH"
	CategoryBackup           DataCategory = "BACKUP"
	CategoryBackupOperation  DataCategory = "BACKUP_OPERATION"
)

// RewritePolicy tells a write task what to do when the object is already
// present in the target offer.
type RewritePolicy int

const (
	// AlwaysRewritable categories are overwritten in place.
	AlwaysRewritable RewritePolicy = iota
	// RejectIfExists categories fail with ErrObjectAlreadyExists.
	RejectIfExists
)

// String returns the policy name.
func (p RewritePolicy) String() string {
	switch p {
	case AlwaysRewritable:
		return "always-rewritable"
	case RejectIfExists:
		return "reject-if-exists"
	default:
		return "unknown"
	}
}

// CategoryPolicy is the storage policy attached to a DataCategory.
type CategoryPolicy struct {
	// Folder is the container name used by offers for this category.
	Folder string
	// Rewrite is the overwrite policy.
	Rewrite RewritePolicy
}

// categoryPolicies is the closed set of supported categories. Adding a
// category or changing its overwrite behaviour is a change to this table only.
var categoryPolicies = map[DataCategory]CategoryPolicy{
	CategoryUnit:             {Folder: "unit", Rewrite: AlwaysRewritable},
	CategoryObjectGroup:      {Folder: "objectgroup", Rewrite: AlwaysRewritable},
	CategoryUnitGraph:        {Folder: "unitgraph", Rewrite: AlwaysRewritable},
	CategoryObjectGroupGraph: {Folder: "objectgroupgraph", Rewrite: AlwaysRewritable},
	CategoryBackup:           {Folder: "backup", Rewrite: AlwaysRewritable},
	CategoryBackupOperation:  {Folder: "backupoperations", Rewrite: AlwaysRewritable},
	CategoryRules:            {Folder: "rules", Rewrite: AlwaysRewritable},
	CategoryObject:           {Folder: "object", Rewrite: RejectIfExists},
	CategoryLogbook:          {Folder: "logbook", Rewrite: RejectIfExists},
	CategoryReport:           {Folder: "report", Rewrite: RejectIfExists},
	CategoryManifest:         {Folder: "manifest", Rewrite: RejectIfExists},
	CategoryProfile:          {Folder: "profile", Rewrite: RejectIfExists},
	CategoryStorageLog:       {Folder: "storagelog", Rewrite: RejectIfExists},
}

// ParseDataCategory parses a category name, case-insensitively.
func ParseDataCategory(name string) (DataCategory, error) {
	c := DataCategory(strings.ToUpper(strings.TrimSpace(name)))
	if err := c.Validate(); err != nil {
		return "", err
	}
	return c, nil
}

// Validate returns ErrIllegalArgument for categories outside the policy table.
func (c DataCategory) Validate() error {
	if _, ok := categoryPolicies[c]; !ok {
		return fmt.Errorf("%w: unsupported data category %q", ErrIllegalArgument, string(c))
	}
	return nil
}

// Policy returns the storage policy of the category.
func (c DataCategory) Policy() (CategoryPolicy, error) {
	p, ok := categoryPolicies[c]
	if !ok {
		return CategoryPolicy{}, fmt.Errorf("%w: unsupported data category %q", ErrIllegalArgument, string(c))
	}
	return p, nil
}

// Folder returns the container name for the category, or an empty string for
// unsupported categories.
func (c DataCategory) Folder() string {
	return categoryPolicies[c].Folder
}

// Rewritable reports whether existing objects of this category may be overwritten.
func (c DataCategory) Rewritable() bool {
	p, ok := categoryPolicies[c]
	return ok && p.Rewrite == AlwaysRewritable
}

// String returns the category name.
func (c DataCategory) String() string {
	return string(c)
}

// DataCategories lists every supported category.
func DataCategories() []DataCategory {
	out := make([]DataCategory, 0, len(categoryPolicies))
	for c := range categoryPolicies {
		out = append(out, c)
	}
	return out
}
