package dbpool

import (
	"fmt"
	"sync"

	"github.com/relaypool/dbpool/driver"
)

var (
	driverRegistryMu sync.RWMutex
	driverRegistry   = map[string]driver.RawDriver{}
)

// RegisterDriver makes a driver.RawDriver implementation available under
// name for Config.DriverName to select. Adapter packages take it as a
// registrar argument (see pgxraw.Register), called once before New.
func RegisterDriver(name string, d driver.RawDriver) {
	driverRegistryMu.Lock()
	defer driverRegistryMu.Unlock()
	driverRegistry[name] = d
}

func lookupDriver(name string) (driver.RawDriver, error) {
	driverRegistryMu.RLock()
	defer driverRegistryMu.RUnlock()
	d, ok := driverRegistry[name]
	if !ok {
		return nil, fmt.Errorf("dbpool: no driver registered under name %q", name)
	}
	return d, nil
}
