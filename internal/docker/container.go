package docker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"

	"github.com/mmr-tortoise/stagehand/internal/model"
)

// ListManaged returns every container the runner has started, including
// exited ones. A normal run removes its containers on the way out
// (`docker run --rm`), so anything this returns was interrupted.
func ListManaged(ctx context.Context, cli *Client) ([]ContainerInfo, error) {
	return list(ctx, cli, container.ListOptions{All: true, Filters: FilterArgs()})
}

// ListRun returns the containers belonging to a single run.
func ListRun(ctx context.Context, cli *Client, runID string) ([]ContainerInfo, error) {
	return list(ctx, cli, container.ListOptions{All: true, Filters: RunFilterArgs(runID)})
}

func list(ctx context.Context, cli *Client, opts container.ListOptions) ([]ContainerInfo, error) {
	containers, err := cli.Inner().ContainerList(ctx, opts)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitDockerError, "failed to list Docker containers", err)
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		result = append(result, infoFromSummary(c))
	}
	sortInfos(result)
	return result, nil
}

// sortInfos orders containers oldest first, then by name for stable
// output when labels carry no timestamp.
func sortInfos(infos []ContainerInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].Name < infos[j].Name
	})
}

// Remove removes one container. Force kills a still-running container
// before removal.
func Remove(ctx context.Context, cli *Client, containerID string, force bool) error {
	err := cli.Inner().ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force})
	if err != nil {
		return model.WrapCLIError(
			model.ExitDockerError,
			fmt.Sprintf("failed to remove container %q", containerID),
			err,
		)
	}
	return nil
}

// Clean removes every managed container older than olderThan. A zero
// olderThan removes them all. It returns the containers it removed.
func Clean(ctx context.Context, cli *Client, olderThan time.Duration, now time.Time) ([]ContainerInfo, error) {
	managed, err := ListManaged(ctx, cli)
	if err != nil {
		return nil, err
	}

	var removed []ContainerInfo
	for _, info := range managed {
		if !expired(info, olderThan, now) {
			continue
		}
		if err := Remove(ctx, cli, info.ID, true); err != nil {
			return removed, err
		}
		removed = append(removed, info)
	}
	return removed, nil
}

// expired reports whether a container is old enough for Clean to
// remove. A container without a created-at label counts as expired.
func expired(info ContainerInfo, olderThan time.Duration, now time.Time) bool {
	if olderThan <= 0 {
		return true
	}
	return now.Sub(info.CreatedAt) >= olderThan
}
