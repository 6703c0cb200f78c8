package s7

import "fmt"

// ValidationInterceptor creates an interceptor that rejects oversized requests
// before they are queued. Each address is already checked by the client; this
// adds site-specific size limits on top.
//
// Example:
//
//	client.SetInterceptor(s7.ValidationInterceptor())
//
//	// This will fail validation
//	_, err := client.ReadBytes(ctx, 1, 0, 10000)
//	// Error: s7: ReadBytes: invalid argument: read length 10000 exceeds limit 4096
func ValidationInterceptor() Interceptor {
	return ValidationInterceptorWithLimits(4096, 4096)
}

// ValidationInterceptorWithLimits creates a validation interceptor with custom limits
// maxReadLength: maximum number of bytes read in a single operation
// maxWriteLength: maximum number of bytes written in a single operation
//
// Example:
//
//	client.SetInterceptor(s7.ValidationInterceptorWithLimits(960, 240))
func ValidationInterceptorWithLimits(maxReadLength, maxWriteLength int) Interceptor {
	return func(c *InterceptorCtx) (interface{}, error) {
		info := c.Info()
		op := string(info.Operation)

		if info.Operation.IsWrite() {
			n, err := writeLength(info)
			if err != nil {
				return nil, invalidArgument(op, "%v", err)
			}
			if n > maxWriteLength {
				return nil, invalidArgument(op, "write length %d exceeds limit %d", n, maxWriteLength)
			}
		} else if info.Address.Length > maxReadLength {
			return nil, invalidArgument(op, "read length %d exceeds limit %d", info.Address.Length, maxReadLength)
		}

		return c.Invoke(nil)
	}
}

func writeLength(info *InterceptorInfo) (int, error) {
	switch d := info.Data.(type) {
	case []byte:
		if len(d) == 0 {
			return 0, fmt.Errorf("empty write data")
		}
		return len(d), nil
	case bool, int16, uint16, int32, float32:
		return info.Address.Length, nil
	default:
		return 0, fmt.Errorf("unexpected write data type %T", info.Data)
	}
}

// AddressRange allows access to [Min, Max] of one area. DBNumber selects the
// data block for AreaDB and is ignored otherwise. For timers and counters the
// bounds are element numbers, for every other area byte offsets.
type AddressRange struct {
	Area     Area
	DBNumber int
	Min, Max int
}

func (r AddressRange) matches(a Address) bool {
	return r.Area == a.Area && (a.Area != AreaDB || r.DBNumber == a.DBNumber)
}

// AddressRangeValidator creates an interceptor that validates address ranges
// It ensures operations only access allowed memory regions.
//
// Example:
//
//	// Only allow DB1 bytes 0-99 and the first 16 merker bytes
//	client.SetInterceptor(s7.AddressRangeValidator(
//		s7.AddressRange{Area: s7.AreaDB, DBNumber: 1, Min: 0, Max: 99},
//		s7.AddressRange{Area: s7.AreaM, Min: 0, Max: 15},
//	))
func AddressRangeValidator(allowed ...AddressRange) Interceptor {
	return func(c *InterceptorCtx) (interface{}, error) {
		info := c.Info()
		addr := info.Address
		op := string(info.Operation)

		var r *AddressRange
		for i := range allowed {
			if allowed[i].matches(addr) {
				r = &allowed[i]
				break
			}
		}
		if r == nil {
			return nil, invalidArgument(op, "area %s is not allowed", areaName(addr))
		}

		end := addr.Offset + addr.span() - 1
		if addr.Offset < r.Min || end > r.Max {
			return nil, invalidArgument(op, "%s accesses %d-%d, outside allowed range %d-%d for %s",
				addr, addr.Offset, end, r.Min, r.Max, areaName(addr))
		}

		return c.Invoke(nil)
	}
}

func areaName(a Address) string {
	if a.Area == AreaDB {
		return fmt.Sprintf("DB%d", a.DBNumber)
	}
	return a.Area.String()
}

// ReadOnlyInterceptor creates an interceptor that blocks all write operations
//
// Example:
//
//	client.SetInterceptor(s7.ReadOnlyInterceptor())
func ReadOnlyInterceptor() Interceptor {
	return func(c *InterceptorCtx) (interface{}, error) {
		info := c.Info()
		if info.Operation.IsWrite() {
			return nil, invalidArgument(string(info.Operation), "write to %s is not allowed in read-only mode", info.Address)
		}

		return c.Invoke(nil)
	}
}
