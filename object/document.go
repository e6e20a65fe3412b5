package object

// Info contains the common fields of the document information dictionary.
type Info struct {
	Title    string
	Author   string
	Subject  string
	Creator  string
	Producer string
	Keywords []string
}

// Permissions describes the actions the document's security settings allow.
type Permissions struct {
	Print             bool
	Modify            bool
	Copy              bool
	ModifyAnnotations bool
	FillForms         bool
	ExtractAccessible bool
	Assemble          bool
	PrintHighQuality  bool
}

// AllPermissions is what an unencrypted document grants.
func AllPermissions() Permissions {
	return Permissions{
		Print: true, Modify: true, Copy: true, ModifyAnnotations: true,
		FillForms: true, ExtractAccessible: true, Assemble: true, PrintHighQuality: true,
	}
}

// PermissionsFromFlags decodes the /P bit field of an encrypted document.
func PermissionsFromFlags(p int32) Permissions {
	bit := func(n uint) bool { return p&(1<<(n-1)) != 0 }
	return Permissions{
		Print:             bit(3),
		Modify:            bit(4),
		Copy:              bit(5),
		ModifyAnnotations: bit(6),
		FillForms:         bit(9),
		ExtractAccessible: bit(10),
		Assemble:          bit(11),
		PrintHighQuality:  bit(12),
	}
}

// Document is the root container for loaded objects.
type Document struct {
	Objects     map[Ref]Object
	Trailer     *Dict
	Version     string
	Info        Info
	Permissions Permissions
	Encrypted   bool
}

// Resolve follows an indirect reference to the loaded object. Non-reference
// objects are returned unchanged; unknown references resolve to nil.
func (d *Document) Resolve(obj Object) Object {
	for i := 0; i < 32; i++ {
		ref, ok := obj.(Ref)
		if !ok {
			return obj
		}
		if d == nil {
			return nil
		}
		next, ok := d.Objects[ref]
		if !ok {
			return nil
		}
		obj = next
	}
	return nil
}

// ResolveDict resolves obj to a dictionary, unwrapping streams to their dict.
func (d *Document) ResolveDict(obj Object) *Dict {
	switch v := d.Resolve(obj).(type) {
	case *Dict:
		return v
	case *Stream:
		return v.Dict
	default:
		return nil
	}
}

// ResolveArray resolves obj to an array.
func (d *Document) ResolveArray(obj Object) *Array {
	arr, _ := d.Resolve(obj).(*Array)
	return arr
}

// ResolveStream resolves obj to a stream.
func (d *Document) ResolveStream(obj Object) *Stream {
	s, _ := d.Resolve(obj).(*Stream)
	return s
}

// ResolveInt resolves obj to an integer value.
func (d *Document) ResolveInt(obj Object) (int64, bool) {
	n, ok := d.Resolve(obj).(Number)
	if !ok {
		return 0, false
	}
	return n.Int(), true
}

// Catalog returns the document catalog dictionary from the trailer.
func (d *Document) Catalog() *Dict {
	if d == nil || d.Trailer == nil {
		return nil
	}
	root, ok := d.Trailer.Get("Root")
	if !ok {
		return nil
	}
	return d.ResolveDict(root)
}
