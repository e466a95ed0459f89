//go:build linux || darwin || freebsd || netbsd || openbsd

package metadata

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

func readSource(path string) (sourceMeta, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return sourceMeta{}, err
	}
	return sourceMeta{
		mode:     os.FileMode(st.Mode).Perm(),
		atime:    time.Unix(st.Atim.Unix()),
		mtime:    time.Unix(st.Mtim.Unix()),
		uid:      int(st.Uid),
		gid:      int(st.Gid),
		hasOwner: true,
	}, nil
}

// canChown reports whether the process may give files away to other users.
func canChown() bool {
	return unix.Geteuid() == 0
}

func chown(path string, uid, gid int) error {
	return unix.Lchown(path, uid, gid)
}

func setTimes(path string, atime, mtime time.Time) error {
	ts := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	if err := unix.UtimesNano(path, ts); err != nil {
		return &os.PathError{Op: "utimes", Path: path, Err: err}
	}
	return nil
}
