package entity

import (
	"fmt"
	"strings"
)

// Container identifies the exact image a job runs. The full URI participates
// in cache identity: the same data run under a different image is a different
// computation.
type Container struct {
	Repo string `json:"repo"`
	Name string `json:"name"`
	Tag  string `json:"tag"`
}

// URI renders repo/name:tag, tolerating stray slashes in config values.
func (c Container) URI() string {
	repo := strings.Trim(c.Repo, "/")
	name := strings.Trim(c.Name, "/")
	uri := name
	if repo != "" {
		uri = repo + "/" + name
	}
	if c.Tag != "" {
		uri += ":" + c.Tag
	}
	return uri
}

func (c Container) Equal(other Container) bool {
	return c.URI() == other.URI()
}

// ContainerRegistry resolves the image for each job kind from configuration.
// A version override (user pinned an older image) replaces the default tag.
type ContainerRegistry struct {
	Repo     string
	Defaults map[string]containerEntry
}

type containerEntry struct {
	Name string
	Tag  string
}

func NewContainerRegistry(repo string) *ContainerRegistry {
	return &ContainerRegistry{Repo: repo, Defaults: map[string]containerEntry{}}
}

func (r *ContainerRegistry) Register(kind, name, tag string) {
	r.Defaults[kind] = containerEntry{Name: name, Tag: tag}
}

func (r *ContainerRegistry) Resolve(kind, versionOverride string) (Container, error) {
	e, ok := r.Defaults[kind]
	if !ok {
		return Container{}, fmt.Errorf("no container registered for job kind %q", kind)
	}
	tag := e.Tag
	if versionOverride != "" {
		tag = versionOverride
	}
	return Container{Repo: r.Repo, Name: e.Name, Tag: tag}, nil
}
