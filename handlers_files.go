/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package nexus

import (
	"context"
	"encoding/base64"
	"errors"
	"os"

	"github.com/nexuschat/nexus/internal/store"
	"github.com/nexuschat/nexus/internal/transfer"
	"github.com/nexuschat/nexus/shared/stringutils"
)

// DefaultDownloadChunkSize bounds how many bytes one download-chunk reply
// carries, keeping individual frames well under MaxFrameBytes.
const DefaultDownloadChunkSize = 64 << 10

func registerFileHandlers(r *Router) {
	r.Handle(KindListDir, handleListDir)
	r.Handle(KindMakeDir, handleMakeDir)
	r.Handle(KindRename, handleRenameFile)
	r.Handle(KindMove, handleMoveFile)
	r.Handle(KindCopy, handleCopyFile)
	r.Handle(KindDeleteFile, handleDeleteFile)
	r.Handle(KindUploadBegin, handleUploadBegin)
	r.Handle(KindUploadChunk, handleUploadChunk)
	r.Handle(KindUploadCommit, handleUploadCommit)
	r.Handle(KindDownloadBegin, handleDownloadBegin)
	r.Handle(KindDownloadChunk, handleDownloadChunk)
	r.Handle(KindSearchFiles, handleSearchFiles)
}

func handleListDir(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermFileDownload) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}
	folder := ctx.Msg.StringField("folder")
	entries, err := s.server.files.ListDir(folder)
	if err != nil {
		s.ReplyError(fileError(err))
		return
	}

	items := make([]map[string]any, 0, len(entries))
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		items = append(items, map[string]any{
			"name":     e.Name,
			"is_dir":   e.IsDir,
			"size":     e.Size,
			"mod_time": e.ModTime.Unix(),
		})
		names = append(names, e.Name)
	}
	s.ReplyOK(map[string]any{
		"entries":    items,
		"name_pages": stringutils.ChunkJoinStrings(NameListPageBytes, ",", names...),
	})
}

func handleMakeDir(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermFileManage) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}
	folder := ctx.Msg.StringField("folder")
	if err := s.server.files.MakeDir(folder); err != nil {
		s.ReplyError(fileError(err))
		return
	}
	s.ReplyOK(map[string]any{"folder": folder})
}

func handleRenameFile(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermFileManage) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}
	folder := ctx.Msg.StringField("folder")
	oldName := ctx.Msg.StringField("old_name")
	newName := ctx.Msg.StringField("new_name")
	if err := s.server.files.Rename(folder, oldName, newName); err != nil {
		s.ReplyError(fileError(err))
		return
	}
	s.ReplyOK(map[string]any{"folder": folder, "name": newName})
}

func handleMoveFile(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermFileManage) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}
	srcFolder := ctx.Msg.StringField("src_folder")
	srcName := ctx.Msg.StringField("src_name")
	dstFolder := ctx.Msg.StringField("dst_folder")
	dstName := ctx.Msg.StringField("dst_name")
	if err := s.server.files.Move(srcFolder, srcName, dstFolder, dstName); err != nil {
		s.ReplyError(fileError(err))
		return
	}
	s.ReplyOK(map[string]any{"folder": dstFolder, "name": dstName})
}

func handleCopyFile(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermFileManage) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}
	srcFolder := ctx.Msg.StringField("src_folder")
	srcName := ctx.Msg.StringField("src_name")
	dstFolder := ctx.Msg.StringField("dst_folder")
	dstName := ctx.Msg.StringField("dst_name")
	if err := s.server.files.Copy(srcFolder, srcName, dstFolder, dstName); err != nil {
		s.ReplyError(fileError(err))
		return
	}
	s.ReplyOK(map[string]any{"folder": dstFolder, "name": dstName})
}

func handleDeleteFile(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermFileManage) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}
	folder := ctx.Msg.StringField("folder")
	name := ctx.Msg.StringField("name")
	if err := s.server.files.DeleteFile(folder, name); err != nil {
		s.ReplyError(fileError(err))
		return
	}
	s.ReplyOK(map[string]any{"folder": folder, "name": name})
}

// handleUploadBegin admits the session into the per-IP transfer
// gate, reserves (folder, filename) in the store, and remembers the
// reservation for subsequent upload-chunk/upload-commit calls. Only
// one upload may be in flight per session at a time.
func handleUploadBegin(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermFileUpload) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}
	if _, ok := s.Upload(); ok {
		s.ReplyError(NewError(ErrTransferLimitExceeded))
		return
	}

	folder := ctx.Msg.StringField("folder")
	filename := ctx.Msg.StringField("filename")
	expectedSize := int64(ctx.Msg.IntField("size"))
	expectedHash := ctx.Msg.StringField("hash")

	release, err := s.admitTransfer()
	if err != nil {
		s.ReplyError(NewError(ErrTransferLimitExceeded))
		return
	}

	res, err := s.server.files.BeginUpload(context.Background(), folder, filename, s.ID(), expectedSize, expectedHash)
	if err != nil {
		release()
		s.ReplyError(fileError(err))
		return
	}

	s.SetUpload(res, release)
	s.ReplyOK(map[string]any{"folder": folder, "filename": filename})
}

// handleUploadChunk appends one base64-encoded chunk to the session's
// active upload.
func handleUploadChunk(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	res, ok := s.Upload()
	if !ok {
		s.ReplyError(NewError(ErrUploadNotFound))
		return
	}

	data, err := base64.StdEncoding.DecodeString(ctx.Msg.StringField("data"))
	if err != nil {
		s.ReplyError(NewError(ErrInvalidMessageFormat, "reason", "invalid base64 chunk data"))
		return
	}

	if err := s.server.files.WriteChunk(context.Background(), res, data); err != nil {
		s.ReplyError(fileError(err))
		return
	}
	res.ReceivedBytes += int64(len(data))
	s.ReplyOK(map[string]any{"received_bytes": res.ReceivedBytes})
}

// handleUploadCommit verifies the received bytes against the reservation
// and finalizes the file.
func handleUploadCommit(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	res, ok := s.Upload()
	if !ok {
		s.ReplyError(NewError(ErrUploadNotFound))
		return
	}

	err := s.server.files.Commit(context.Background(), res)
	s.ClearUpload()
	if err != nil {
		s.ReplyError(fileError(err))
		return
	}
	s.ReplyOK(map[string]any{"folder": res.Folder, "filename": res.Filename})
}

// handleDownloadBegin opens the requested file for reading and admits the
// session into the per-IP transfer semaphore.
func handleDownloadBegin(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermFileDownload) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}
	if _, _, ok := s.Download(); ok {
		s.ReplyError(NewError(ErrTransferLimitExceeded))
		return
	}

	folder := ctx.Msg.StringField("folder")
	filename := ctx.Msg.StringField("filename")

	release, err := s.admitTransfer()
	if err != nil {
		s.ReplyError(NewError(ErrTransferLimitExceeded))
		return
	}

	f, size, err := s.server.files.OpenDownload(folder, filename)
	if err != nil {
		release()
		s.ReplyError(fileError(err))
		return
	}

	s.SetDownload(f, release, size)
	s.ReplyOK(map[string]any{"folder": folder, "filename": filename, "size": size})
}

// handleDownloadChunk streams the next chunk of the session's active
// download, closing it out automatically once the file is exhausted.
func handleDownloadChunk(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	f, remaining, ok := s.Download()
	if !ok {
		s.ReplyError(NewError(ErrTransferNotFound))
		return
	}
	if remaining <= 0 {
		s.ClearDownload()
		s.ReplyOK(map[string]any{"data": "", "done": true})
		return
	}

	chunkSize := int64(DefaultDownloadChunkSize)
	if remaining < chunkSize {
		chunkSize = remaining
	}
	buf := make([]byte, chunkSize)
	n, err := f.Read(buf)
	if err != nil {
		s.ClearDownload()
		s.ReplyError(fileError(err))
		return
	}

	s.SetDownloadRemaining(remaining - int64(n))
	done := remaining-int64(n) <= 0
	if done {
		s.ClearDownload()
	}
	s.ReplyOK(map[string]any{
		"data": base64.StdEncoding.EncodeToString(buf[:n]),
		"done": done,
	})
}

func handleSearchFiles(ctx *MessageContext) {
	s := ctx.Session
	defer ctx.Handled()

	if !s.HasPermission(PermFileDownload) {
		s.ReplyError(NewError(ErrPermissionDenied))
		return
	}
	query := ctx.Msg.StringField("query")
	matches, err := s.server.files.SearchFiles(query)
	if err != nil {
		s.ReplyError(fileError(err))
		return
	}
	s.ReplyOK(map[string]any{"matches": matches})
}

// admitTransfer claims one of the session IP's concurrent-transfer slots.
// A live trust entry for the IP waives the limit; the returned release is
// then a no-op.
func (s *Session) admitTransfer() (release func(), err error) {
	decision, derr := s.server.access.CheckConnect(context.Background(), s.RemoteIP())
	if derr == nil && decision.Trusted {
		return func() {}, nil
	}
	return s.server.files.Admit(s.RemoteIP())
}

// fileError maps internal/transfer and internal/store sentinels to this
// package's closed err-* taxonomy.
func fileError(err error) *Error {
	switch {
	case errors.Is(err, transfer.ErrPathOutsideRoot):
		return NewError(ErrFilePathInvalid)
	case errors.Is(err, transfer.ErrUploadNotAllowed):
		return NewError(ErrUploadDestinationNotAllowed)
	case errors.Is(err, transfer.ErrLimitExceeded):
		return NewError(ErrTransferLimitExceeded)
	case errors.Is(err, transfer.ErrHashMismatch):
		return NewError(ErrUploadHashMismatch)
	case errors.Is(err, transfer.ErrSizeMismatch):
		return NewError(ErrUploadSizeMismatch)
	case errors.Is(err, store.ErrUploadFileExists):
		return NewError(ErrFileAlreadyExists)
	case errors.Is(err, store.ErrUploadConflict):
		return NewError(ErrUploadConflict)
	case errors.Is(err, store.ErrNotFound):
		return NewError(ErrFileNotFound)
	case os.IsNotExist(err):
		return NewError(ErrFileNotFound)
	default:
		return NewError(ErrDatabase, "reason", err.Error())
	}
}
