// Package cli is the chunkkeeper uploader command line.
//
// Commands:
//
//	upload <file>...           create a session per file and send its chunks
//	resume <session> <file>    send the chunks a session is still missing
//	status <session>           print progress and missing chunks
//	cancel <session>           cancel an upload
//	delete <session>           delete an upload and its data
//
// The access token comes from -token, $CHUNKKEEPER_TOKEN or the config
// file; when none is set the user is prompted for it.
package cli
