package state

import (
	"encoding/xml"
	"sort"
)

// PostRecord maps a server post id to its public id.
type PostRecord struct {
	ServerID int `xml:"dbid,attr"`
	PublicID int `xml:"publicid,attr"`
}

// PostIDMap is the cachedpostids document.
type PostIDMap struct {
	XMLName xml.Name     `xml:"posts"`
	Posts   []PostRecord `xml:"post"`
}

// Lookup returns the public id recorded for a server id.
func (m *PostIDMap) Lookup(serverID int) (int, bool) {
	for _, p := range m.Posts {
		if p.ServerID == serverID {
			return p.PublicID, true
		}
	}
	return 0, false
}

// Put records a mapping and reports whether the document changed.
func (m *PostIDMap) Put(serverID, publicID int) bool {
	for i, p := range m.Posts {
		if p.ServerID == serverID {
			if p.PublicID == publicID {
				return false
			}
			m.Posts[i].PublicID = publicID
			return true
		}
	}
	m.Posts = append(m.Posts, PostRecord{ServerID: serverID, PublicID: publicID})
	return true
}

// Remove drops the mapping of a server id and reports whether it existed.
func (m *PostIDMap) Remove(serverID int) bool {
	for i, p := range m.Posts {
		if p.ServerID == serverID {
			m.Posts = append(m.Posts[:i], m.Posts[i+1:]...)
			return true
		}
	}
	return false
}

// CommentRecord is the metadata kept per archived comment.
type CommentRecord struct {
	ID    int    `xml:"id,attr"`
	State string `xml:"state,attr"`
	Date  string `xml:"date,attr,omitempty"`
	Hash  string `xml:"subjectbodyhash,attr,omitempty"`
}

// CommentPage is one cachedcommentsmetadata document, covering CommentPageSize ids.
type CommentPage struct {
	XMLName  xml.Name        `xml:"comments"`
	Comments []CommentRecord `xml:"comment"`
}

// Find returns the record of a comment id.
func (p *CommentPage) Find(id int) (CommentRecord, bool) {
	i := p.search(id)
	if i < len(p.Comments) && p.Comments[i].ID == id {
		return p.Comments[i], true
	}
	return CommentRecord{}, false
}

// Put inserts or replaces a record, keeping ids ascending, and reports whether the page changed.
func (p *CommentPage) Put(rec CommentRecord) bool {
	i := p.search(rec.ID)
	if i < len(p.Comments) && p.Comments[i].ID == rec.ID {
		if p.Comments[i] == rec {
			return false
		}
		p.Comments[i] = rec
		return true
	}
	p.Comments = append(p.Comments, CommentRecord{})
	copy(p.Comments[i+1:], p.Comments[i:])
	p.Comments[i] = rec
	return true
}

// Prune removes records with lo <= id <= hi that are not in keep. It returns the removed ids.
func (p *CommentPage) Prune(lo, hi int, keep map[int]bool) []int {
	var removed []int
	kept := p.Comments[:0]
	for _, rec := range p.Comments {
		if rec.ID >= lo && rec.ID <= hi && !keep[rec.ID] {
			removed = append(removed, rec.ID)
			continue
		}
		kept = append(kept, rec)
	}
	p.Comments = kept
	return removed
}

func (p *CommentPage) search(id int) int {
	return sort.Search(len(p.Comments), func(i int) bool { return p.Comments[i].ID >= id })
}

// UserMapEntry is one resolved poster identity.
type UserMapEntry struct {
	ID       string `xml:"id,attr"`
	User     string `xml:"user,attr"`
	RealName string `xml:"real_name,attr,omitempty"`
}

// UserMap is the cacheduserids document.
type UserMap struct {
	XMLName xml.Name       `xml:"usermaps"`
	Users   []UserMapEntry `xml:"usermap"`
}

// Find returns the entry for a poster id.
func (m *UserMap) Find(id string) (UserMapEntry, bool) {
	for _, u := range m.Users {
		if u.ID == id {
			return u, true
		}
	}
	return UserMapEntry{}, false
}

// Put records an entry and reports whether the document changed.
func (m *UserMap) Put(entry UserMapEntry) bool {
	for i, u := range m.Users {
		if u.ID == entry.ID {
			if u == entry {
				return false
			}
			m.Users[i] = entry
			return true
		}
	}
	m.Users = append(m.Users, entry)
	return true
}

// ImagePostRef names a post that references an image.
type ImagePostRef struct {
	ServerID int `xml:"dbid,attr"`
}

// ImageEntry is one downloaded image with the posts that use it.
type ImageEntry struct {
	Remote       string         `xml:"remote,attr"`
	Local        string         `xml:"local,attr"`
	LinkedRemote string         `xml:"linkedRemote,attr,omitempty"`
	LinkedLocal  string         `xml:"linkedLocal,attr,omitempty"`
	Posts        []ImagePostRef `xml:"posts>post"`
}

// HasPost reports whether the post references the image.
func (e *ImageEntry) HasPost(serverID int) bool {
	for _, p := range e.Posts {
		if p.ServerID == serverID {
			return true
		}
	}
	return false
}

// AddPost adds a reference and reports whether it was new.
func (e *ImageEntry) AddPost(serverID int) bool {
	if e.HasPost(serverID) {
		return false
	}
	e.Posts = append(e.Posts, ImagePostRef{ServerID: serverID})
	return true
}

// RemovePost drops a reference and reports whether it existed.
func (e *ImageEntry) RemovePost(serverID int) bool {
	for i, p := range e.Posts {
		if p.ServerID == serverID {
			e.Posts = append(e.Posts[:i], e.Posts[i+1:]...)
			return true
		}
	}
	return false
}

// ImageMap is the cachedimagepaths document.
type ImageMap struct {
	XMLName xml.Name      `xml:"images"`
	Images  []*ImageEntry `xml:"image"`
}

// Find returns the entry for a remote URL, or nil.
func (m *ImageMap) Find(remote string) *ImageEntry {
	for _, e := range m.Images {
		if e.Remote == remote {
			return e
		}
	}
	return nil
}

// Add appends an entry.
func (m *ImageMap) Add(entry *ImageEntry) {
	m.Images = append(m.Images, entry)
}

// Remove drops the entry for a remote URL and reports whether it existed.
func (m *ImageMap) Remove(remote string) bool {
	for i, e := range m.Images {
		if e.Remote == remote {
			m.Images = append(m.Images[:i], m.Images[i+1:]...)
			return true
		}
	}
	return false
}

// ReferencedBy returns the entries a post references.
func (m *ImageMap) ReferencedBy(serverID int) []*ImageEntry {
	var out []*ImageEntry
	for _, e := range m.Images {
		if e.HasPost(serverID) {
			out = append(out, e)
		}
	}
	return out
}
