package dm

import "strings"

// Hub is a top-level organizational container. One hub backs one tab.
type Hub struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Attributes HubAttributes `json:"attributes"`
}

type HubAttributes struct {
	Name      string    `json:"name"`
	Region    string    `json:"region,omitempty"`
	Extension Extension `json:"extension"`
}

type Extension struct {
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`
}

type Project struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes ProjectAttributes `json:"attributes"`
}

type ProjectAttributes struct {
	Name      string    `json:"name"`
	Extension Extension `json:"extension"`
}

// Entry is one child of a folder: either a sub-folder or an item.
type Entry struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Attributes EntryAttributes `json:"attributes"`
}

type EntryAttributes struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"displayName"`
}

const (
	EntryFolder = "folders"
	EntryItem   = "items"
)

func (e Entry) IsFolder() bool { return e.Type == EntryFolder }

// Version is an immutable snapshot of an item's content.
type Version struct {
	ID            string               `json:"id"`
	Type          string               `json:"type"`
	Attributes    VersionAttributes    `json:"attributes"`
	Relationships VersionRelationships `json:"relationships"`
}

type VersionAttributes struct {
	Name          string `json:"name"`
	DisplayName   string `json:"displayName"`
	FileType      string `json:"fileType"`
	VersionNumber int    `json:"versionNumber"`
	CreateTime    string `json:"createTime,omitempty"`
}

type VersionRelationships struct {
	Derivatives Relationship `json:"derivatives"`
	Storage     Relationship `json:"storage"`
}

type Relationship struct {
	Data *RelationshipData `json:"data,omitempty"`
}

type RelationshipData struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

// ContentID is the opaque identifier the derivative service and the
// viewer use to address a version's content.
type ContentID string

func (c ContentID) String() string { return string(c) }

// HubHeader returns the tab label prefix for a hub, derived from its type.
func HubHeader(hub Hub) string {
	kind := strings.TrimSpace(hub.Attributes.Extension.Type)
	switch kind {
	case "hubs:autodesk.bim360:Account":
		return "BIM 360"
	case "hubs:autodesk.core:Hub":
		return "A360"
	case "hubs:autodesk.a360:PersonalHub":
		return "Personal"
	case "":
		return "Hub"
	default:
		return kind
	}
}

// TabTitle renders the "<header>: <name>" label shown on a hub tab.
func TabTitle(hub Hub) string {
	return HubHeader(hub) + ": " + hub.Attributes.Name
}
