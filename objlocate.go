// Package objlocate finds detected objects in 3D using a depth camera.
package objlocate

import (
	"go.viam.com/rdk/resource"
)

var NamespaceFamily = resource.NewModelFamily("erh", "objlocate")
