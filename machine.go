package objlocate

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.viam.com/rdk/app"
	"go.viam.com/rdk/cli"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/robot"
	"go.viam.com/rdk/robot/client"
	"go.viam.com/rdk/robot/framesystem"
	"go.viam.com/rdk/utils"
	"go.viam.com/utils/rpc"
)

// MachineToDependencies exposes every resource on a remote machine as local dependencies, so
// the same constructors work from the cli and inside the module.
func MachineToDependencies(machine robot.Robot) (resource.Dependencies, error) {
	deps := resource.Dependencies{}

	for _, n := range machine.ResourceNames() {
		r, err := machine.ResourceByName(n)
		if err != nil {
			return nil, err
		}
		deps[n] = r
	}

	r, ok := machine.(resource.Resource)
	if !ok {
		return nil, fmt.Errorf("machine client isn't a resource.Resource")
	}
	deps[framesystem.PublicServiceName] = r

	return deps, nil
}

// Connect uses the viam cli token when host is set and the machine env vars otherwise.
func Connect(ctx context.Context, host string, logger logging.Logger) (robot.Robot, error) {
	if host != "" {
		return ConnectToHostFromCLIToken(ctx, host, logger)
	}
	return ConnectToMachineFromEnv(ctx, logger)
}

func ConnectToMachineFromEnv(ctx context.Context, logger logging.Logger) (robot.Robot, error) {
	params := []string{}
	for _, pp := range []string{utils.MachineFQDNEnvVar, utils.APIKeyIDEnvVar, utils.APIKeyEnvVar} {
		x := os.Getenv(pp)
		if x == "" {
			return nil, fmt.Errorf("no environment variable for %s", pp)
		}
		params = append(params, x)
	}
	return ConnectToMachine(ctx, logger, params[0], params[1], params[2])
}

func ConnectToMachine(ctx context.Context, logger logging.Logger, host, apiKeyID, apiKey string) (robot.Robot, error) {
	return client.New(
		ctx,
		host,
		logger,
		client.WithDialOptions(rpc.WithEntityCredentials(
			apiKeyID,
			rpc.Credentials{
				Type:    rpc.CredentialsTypeAPIKey,
				Payload: apiKey,
			},
		)),
	)
}

// ConnectToHostFromCLIToken logs in to a machine by hostname with the token from "viam login".
func ConnectToHostFromCLIToken(ctx context.Context, host string, logger logging.Logger) (robot.Robot, error) {
	if host == "" {
		return nil, fmt.Errorf("need to specify host")
	}

	c, err := cli.ConfigFromCache(nil)
	if err != nil {
		return nil, err
	}

	dopts, err := c.DialOptions()
	if err != nil {
		return nil, err
	}

	return client.New(ctx, host, logger, client.WithDialOptions(dopts...))
}

// MergeAttributesFromModuleEnv is MergeAttributes for the part this module runs on.
func MergeAttributesFromModuleEnv(ctx context.Context, name resource.Name, attrs utils.AttributeMap, logger logging.Logger) error {
	partID := os.Getenv(utils.MachinePartIDEnvVar)
	if partID == "" {
		return fmt.Errorf("no %s in env", utils.MachinePartIDEnvVar)
	}

	c, err := app.CreateViamClientFromEnvVars(ctx, nil, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	return MergeAttributes(ctx, c.AppClient(), partID, name, attrs)
}

// MergeAttributes sets attrs on the named component or service in a part's cloud config and
// leaves its other attributes alone. A resource that comes from a fragment is changed with a
// fragment mod.
func MergeAttributes(ctx context.Context, c *app.AppClient, partID string, name resource.Name, attrs utils.AttributeMap) error {
	part, _, err := c.GetRobotPart(ctx, partID)
	if err != nil {
		return err
	}

	if err := mergeAttributesInConfig(ctx, part.RobotConfig, c.GetFragment, name.ShortName(), attrs); err != nil {
		return err
	}

	_, err = c.UpdateRobotPart(ctx, partID, part.Name, part.RobotConfig)
	return err
}

type fragmentGetter func(ctx context.Context, id, version string) (*app.Fragment, error)

func mergeAttributesInConfig(ctx context.Context, cfg map[string]interface{}, getFragment fragmentGetter, name string, attrs utils.AttributeMap) error {
	found := false
	for _, section := range []string{"components", "services"} {
		list, _ := cfg[section].([]interface{})
		matches, err := findByName(list, name)
		if err != nil {
			return err
		}
		for _, m := range matches {
			m["attributes"] = mergedAttributes(m["attributes"], attrs)
			found = true
		}
	}
	if found {
		return nil
	}

	fragments, _ := cfg["fragments"].([]interface{})
	for _, f := range fragments {
		id, version, err := fragmentRef(f)
		if err != nil {
			return err
		}
		prefix, err := findInFragment(ctx, getFragment, id, version, name)
		if err != nil {
			return err
		}
		if prefix != "" {
			return setFragmentMod(cfg, id, prefix, attrs)
		}
	}

	return fmt.Errorf("didn't find component with name %v", name)
}

func findByName(list []interface{}, name string) ([]map[string]interface{}, error) {
	out := []map[string]interface{}{}
	for idx, x := range list {
		m, ok := x.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("config bad %d: %T", idx, x)
		}
		if m["name"] == name {
			out = append(out, m)
		}
	}
	return out, nil
}

func mergedAttributes(existing interface{}, attrs utils.AttributeMap) map[string]interface{} {
	out := map[string]interface{}{}
	switch old := existing.(type) {
	case map[string]interface{}:
		for k, v := range old {
			out[k] = v
		}
	case utils.AttributeMap:
		for k, v := range old {
			out[k] = v
		}
	}
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// fragmentRef reads a fragment entry, which is either a bare id or {"id": ..., "version": ...}.
func fragmentRef(f interface{}) (string, string, error) {
	if id, ok := f.(string); ok {
		return id, "", nil
	}

	m, ok := f.(map[string]interface{})
	if !ok {
		return "", "", fmt.Errorf("fragment config does not match expected interface: %T", f)
	}

	id, ok := m["id"].(string)
	if !ok {
		return "", "", fmt.Errorf("fragment is missing an id: %v", f)
	}
	version, _ := m["version"].(string)
	return id, version, nil
}

// findInFragment returns the fragment mod path prefix for name, searching nested fragments,
// or "" when the fragment does not define it.
func findInFragment(ctx context.Context, getFragment fragmentGetter, id, version, name string) (string, error) {
	frag, err := getFragment(ctx, id, version)
	if err != nil {
		return "", err
	}

	for _, section := range []string{"components", "services"} {
		// a fragment can leave out either section
		list, _ := frag.Fragment[section].([]interface{})
		matches, err := findByName(list, name)
		if err != nil {
			return "", err
		}
		if len(matches) > 0 {
			return fmt.Sprintf("%s.%s.attributes", section, name), nil
		}
	}

	nested, _ := frag.Fragment["fragments"].([]interface{})
	for _, f := range nested {
		nid, nversion, err := fragmentRef(f)
		if err != nil {
			return "", err
		}
		prefix, err := findInFragment(ctx, getFragment, nid, nversion, name)
		if err != nil {
			return "", err
		}
		if prefix != "" {
			return prefix, nil
		}
	}

	return "", nil
}

// setFragmentMod writes a $set mod for prefix on fragment id. An existing mod that already
// sets keys under prefix is replaced, otherwise one is added.
func setFragmentMod(cfg map[string]interface{}, id, prefix string, attrs utils.AttributeMap) error {
	set := map[string]interface{}{}
	for k, v := range attrs {
		set[prefix+"."+k] = v
	}
	mod := map[string]interface{}{"$set": set}

	fragMods, _ := cfg["fragment_mods"].([]interface{})
	for _, fm := range fragMods {
		fmc, ok := fm.(map[string]interface{})
		if !ok {
			return fmt.Errorf("fragment mod config bad for fragment %v: %T", id, fm)
		}
		if fmc["fragment_id"] != id {
			continue
		}

		// app drops empty mods, so no mods key means none
		mods, _ := fmc["mods"].([]interface{})
		for i, m := range mods {
			mc, _ := m.(map[string]interface{})
			sets, _ := mc["$set"].(map[string]interface{})
			for k := range sets {
				if strings.HasPrefix(k, prefix) {
					// keep whatever the old mod set that this one doesn't
					for oldKey, oldValue := range sets {
						if _, have := set[oldKey]; !have {
							set[oldKey] = oldValue
						}
					}
					mods[i] = mod
					return nil
				}
			}
		}
		fmc["mods"] = append(mods, mod)
		return nil
	}

	cfg["fragment_mods"] = append(fragMods, map[string]interface{}{
		"fragment_id": id,
		"mods":        []interface{}{mod},
	})
	return nil
}
