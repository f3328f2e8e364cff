package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate reports every problem in the server list at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Backup.Root == "" {
		errs = append(errs, errors.New("backup.root is required"))
	}
	if len(c.Servers) == 0 {
		errs = append(errs, errors.New("no servers configured"))
	}
	seen := map[string]string{}
	for i, srv := range c.Servers {
		label := srv.Name
		if label == "" {
			label = fmt.Sprintf("servers[%d]", i)
			errs = append(errs, fmt.Errorf("%s: name is required", label))
		}
		if strings.ContainsAny(srv.Name, `/\`) {
			errs = append(errs, fmt.Errorf("%s: name must not contain path separators", label))
		}
		// artifact directories are lowercased, so names must differ beyond case
		if prev, dup := seen[strings.ToLower(srv.Name)]; dup && srv.Name != "" {
			errs = append(errs, fmt.Errorf("%s: collides with server %s", label, prev))
		}
		seen[strings.ToLower(srv.Name)] = label
		if !srv.Local && srv.Host == "" {
			errs = append(errs, fmt.Errorf("%s: host is required for remote servers", label))
		}
		if len(srv.Targets) == 0 && !srv.MySQL.DumpEnabled() {
			errs = append(errs, fmt.Errorf("%s: nothing to back up", label))
		}
		for j, tgt := range srv.Targets {
			if strings.TrimSpace(tgt.Path) == "" {
				errs = append(errs, fmt.Errorf("%s: targets[%d].path is required", label, j))
			}
		}
		if srv.MySQL.DumpEnabled() && srv.MySQL.User == "" {
			errs = append(errs, fmt.Errorf("%s: mysql.user is required", label))
		}
	}
	if c.Mirror.Enabled {
		switch c.Mirror.Backend {
		case "s3":
			if c.Mirror.S3.Endpoint == "" || c.Mirror.S3.Bucket == "" {
				errs = append(errs, errors.New("mirror: s3 endpoint and bucket are required"))
			}
		case "local":
			if c.Mirror.Local.Path == "" {
				errs = append(errs, errors.New("mirror: local.path is required"))
			}
		default:
			errs = append(errs, fmt.Errorf("mirror: unsupported backend %q", c.Mirror.Backend))
		}
	}
	return errors.Join(errs...)
}
