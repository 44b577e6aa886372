package vault

import (
	"errors"
	"fmt"
	"strings"
)

// Vault KV v2 path format (env-scoped, repo-scoped, role-scoped):
// {mount}/data/tufserv/{env}/repos/{repo_id}/roles/{role_type}/{key_id}
// Stored fields: key_id, repo_id, role_type, key_type, private_pem_base64.
const kvPathFormat = "%s/data/tufserv/%s/repos/%s/roles/%s/%s"

func keyPath(mount, env, repoID, roleType, keyID string) (string, error) {
	if mount == "" || env == "" {
		return "", errors.New("vault mount and env are required")
	}
	if repoID == "" || roleType == "" || keyID == "" {
		return "", errors.New("repo id, role type and key id are required")
	}
	for _, part := range []string{mount, env, repoID, roleType, keyID} {
		if strings.ContainsAny(part, " /") && part != mount {
			return "", fmt.Errorf("invalid path segment %q", part)
		}
	}
	return fmt.Sprintf(kvPathFormat, mount, env, repoID, roleType, keyID), nil
}
