package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/specialistvlad/stagegrid/internal/runctx"
)

// Git derives the trigger from a local checkout: a tag pointing at HEAD wins,
// otherwise the checked out branch, otherwise the detached commit.
type Git struct {
	// Path is any directory inside the working tree.
	Path string
}

// Trigger implements Source. A directory that is not a repository yields a
// zero Trigger.
func (g Git) Trigger(ctx context.Context) (Trigger, error) {
	path := g.Path
	if path == "" {
		path = "."
	}
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Trigger{}, nil
	}
	if err != nil {
		return Trigger{}, fmt.Errorf("failed to open git repository at %s: %w", path, err)
	}
	return fromRepository(ctx, repo)
}

func fromRepository(ctx context.Context, repo *git.Repository) (Trigger, error) {
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		// Repository without commits.
		return Trigger{}, nil
	}
	if err != nil {
		return Trigger{}, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	commit := head.Hash().String()

	tags, err := tagsAt(ctx, repo, head.Hash())
	if err != nil {
		return Trigger{}, err
	}
	if len(tags) > 0 {
		ref := plumbing.NewTagReferenceName(preferredTag(tags)).String()
		return Trigger{Ref: ref, Kind: runctx.Tag, Commit: commit, Source: "git"}, nil
	}

	if head.Name().IsBranch() {
		return Trigger{Ref: head.Name().String(), Kind: runctx.Branch, Commit: commit, Source: "git"}, nil
	}
	return Trigger{Ref: commit, Kind: runctx.Other, Commit: commit, Source: "git"}, nil
}

// tagsAt lists the short names of tags, lightweight or annotated, that point
// at hash.
func tagsAt(ctx context.Context, repo *git.Repository, hash plumbing.Hash) ([]string, error) {
	iter, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer iter.Close()

	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := ref.Hash()
		if tag, err := repo.TagObject(target); err == nil {
			target = tag.Target
		}
		if target == hash {
			names = append(names, ref.Name().Short())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate tags: %w", err)
	}
	return names, nil
}

// preferredTag picks the highest semantic version among tags; tags that are
// not versions rank below versions and among themselves by name.
func preferredTag(tags []string) string {
	sort.Slice(tags, func(i, j int) bool {
		vi, erri := semver.NewVersion(tags[i])
		vj, errj := semver.NewVersion(tags[j])
		switch {
		case erri == nil && errj == nil:
			if !vi.Equal(vj) {
				return vi.GreaterThan(vj)
			}
		case erri == nil:
			return true
		case errj == nil:
			return false
		}
		return tags[i] > tags[j]
	})
	return tags[0]
}
