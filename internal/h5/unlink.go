package h5

// #cgo LDFLAGS: -lhdf5
// #cgo darwin CFLAGS: -I/usr/local/include
// #cgo darwin LDFLAGS: -L/usr/local/lib
// #cgo linux CFLAGS: -I/usr/local/include -I/usr/lib/x86_64-linux-gnu/hdf5/serial/include
// #cgo linux LDFLAGS: -L/usr/local/lib -L/usr/lib/x86_64-linux-gnu/hdf5/serial/lib
// #include <stdlib.h>
// #include <hdf5.h>
import "C"

import (
	"fmt"
	"unsafe"
)

// unlink removes the link name from the group identified by loc.
// gonum/hdf5 does not wrap H5Ldelete.
func unlink(loc int64, name string) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	if rc := C.H5Ldelete(C.hid_t(loc), cname, C.H5P_DEFAULT); rc < 0 {
		return fmt.Errorf("H5Ldelete %q: status %d", name, int(rc))
	}
	return nil
}
