package daemon

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// DropPrivileges switches the process to name (a user name or numeric uid)
// and that user's groups. It does nothing unless the process runs as root,
// but the user must exist either way.
func DropPrivileges(name string) error {
	if name == "" {
		return nil
	}

	u, err := lookupUser(name)
	if err != nil {
		return fmt.Errorf("could not lookup user %s: %w", name, err)
	}

	if os.Getuid() != 0 {
		return nil
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("user %s: bad uid %q", name, u.Uid)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("user %s: bad gid %q", name, u.Gid)
	}

	groups := []int{gid}
	if ids, err := u.GroupIds(); err == nil {
		for _, id := range ids {
			if g, err := strconv.Atoi(id); err == nil && g != gid {
				groups = append(groups, g)
			}
		}
	}

	if err := unix.Setgroups(groups); err != nil {
		return fmt.Errorf("could not drop privs to %s: setgroups: %w", name, err)
	}
	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("could not drop privs to %s: setgid %d: %w", name, gid, err)
	}
	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf("could not drop privs to %s: setuid %d: %w", name, uid, err)
	}
	return nil
}

func lookupUser(name string) (*user.User, error) {
	if _, err := strconv.Atoi(name); err == nil {
		return user.LookupId(name)
	}
	return user.Lookup(name)
}
