package textop

// Document is a plain-text document.
type Document struct {
	Value string
}

func NewDocument(s string) *Document {
	return &Document{Value: s}
}

func (d *Document) String() string {
	return d.Value
}

// Service is the ot.Service for plain text.
type Service struct{}

func (Service) Apply(p Patch, d *Document) error {
	s, err := p.Apply(d.Value)
	if err != nil {
		return err
	}
	d.Value = s
	return nil
}

func (Service) Equivalent(a, b *Document) bool {
	return a.Value == b.Value
}

// Compose never fails for text; every pair of patches concatenates.
func (Service) Compose(later, earlier Patch) (Patch, error) {
	return Compact(earlier, later), nil
}

func (Service) Invert(p Patch) Patch {
	return p.Invert()
}

func (Service) Transform(client, server Patch) (Patch, Patch, error) {
	return TransformPatch(client, server)
}

func (Service) AsOperation(d *Document) Patch {
	if d.Value == "" {
		return Patch{}
	}
	return Patch{&Insert{0, d.Value}}
}

func (Service) InitialState() *Document {
	return &Document{}
}
