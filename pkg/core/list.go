package core

import (
	"github.com/klauspost/compress/zip"

	"dirzip/pkg/fault"
	"dirzip/pkg/iox"
)

// List returns the members of the archive at source in stored order
func List(source string) ([]Member, error) {
	rc, err := openArchive(source)
	if err != nil {
		return nil, err
	}
	defer iox.DiscardClose(rc)

	members := make([]Member, 0, len(rc.File))
	for _, zf := range rc.File {
		members = append(members, memberOf(zf))
	}
	return members, nil
}

// Verify reads every member of the archive at source and checks its CRC-32
// without writing anything. It returns the members checked.
func Verify(source string) ([]Member, error) {
	rc, err := openArchive(source)
	if err != nil {
		return nil, err
	}
	defer iox.DiscardClose(rc)
	registerDecompressors(&rc.Reader)

	buf := make([]byte, DefaultBufferSize)
	members := make([]Member, 0, len(rc.File))
	for _, zf := range rc.File {
		if err := drainMember(zf, buf); err != nil {
			return members, fault.ArchiveFormat("verify member", zf.Name, err)
		}
		members = append(members, memberOf(zf))
	}
	return members, nil
}

func memberOf(zf *zip.File) Member {
	return Member{
		Name:             zf.Name,
		Method:           Method(zf.Method),
		CompressedSize:   zf.CompressedSize64,
		UncompressedSize: zf.UncompressedSize64,
		CRC32:            zf.CRC32,
		Modified:         zf.Modified,
		IsDir:            isDirMember(zf),
	}
}
