/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ledger

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"github.com/CovenantSQL/vericerti/utils"
)

var (
	// ErrInvalidLocator indicates a file locator outside of the file store.
	ErrInvalidLocator = errors.New("invalid file locator")
)

// FileStore keeps the documents anchored by ledger records.
type FileStore interface {
	// Save stores content and returns its locator.
	Save(ctx context.Context, tenantID int64, filename string, content []byte) (string, error)
	// Open returns the content of locator.
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
}

// LocalFileStore is a FileStore on the local file system, files are laid out as
// <root>/<tenant>/<uuid><ext>.
type LocalFileStore struct {
	root string
}

// NewLocalFileStore returns a file store rooted at root, creating it when missing.
func NewLocalFileStore(root string) (*LocalFileStore, error) {
	root = utils.HomeDirExpand(root)
	if err := utils.EnsureDir(root); err != nil {
		return nil, errors.Wrap(err, "create file store root failed")
	}
	return &LocalFileStore{root: root}, nil
}

// Save implements FileStore.Save.
func (s *LocalFileStore) Save(ctx context.Context, tenantID int64, filename string, content []byte) (
	locator string, err error,
) {
	if err = ctx.Err(); err != nil {
		return
	}
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	locator = filepath.ToSlash(filepath.Join(
		strconv.FormatInt(tenantID, 10), uuid.Must(uuid.NewV4()).String()+ext))

	path := filepath.Join(s.root, filepath.FromSlash(locator))
	if err = utils.EnsureDir(filepath.Dir(path)); err != nil {
		return "", errors.Wrap(err, "create tenant directory failed")
	}
	if err = ioutil.WriteFile(path, content, 0640); err != nil {
		return "", errors.Wrapf(err, "write file %s failed", locator)
	}
	return
}

// Open implements FileStore.Open.
func (s *LocalFileStore) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(s.root, filepath.FromSlash(locator))
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil, errors.Wrap(ErrInvalidLocator, locator)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open file %s failed", locator)
	}
	return f, nil
}
